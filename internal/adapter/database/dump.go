package database

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/semmidev/dbkeep/internal/adapter/archive"
	"github.com/semmidev/dbkeep/internal/domain"
)

const redacted = "xxxxx"

// dumpCommand is one invocation of an external dump utility. env entries
// only reach the child process; secrets are scrubbed from anything it
// prints before the output leaves this package.
type dumpCommand struct {
	kind    domain.DatabaseKind
	bin     string
	args    []string
	env     []string
	secrets []string
	verify  bool
}

func (c dumpCommand) run(ctx context.Context, outputPath string) error {
	cmd := exec.CommandContext(ctx, c.bin, c.args...)
	cmd.Env = append(os.Environ(), c.env...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		removePartial(outputPath)
		return &domain.ExportError{
			Kind:   c.kind,
			Output: redact(strings.TrimSpace(string(output)), c.secrets...),
			Err:    err,
		}
	}

	if _, err := os.Stat(outputPath); err != nil {
		return &domain.ExportError{
			Kind:   c.kind,
			Output: redact(strings.TrimSpace(string(output)), c.secrets...),
			Err:    fmt.Errorf("%s exited cleanly but wrote no archive: %w", c.bin, err),
		}
	}

	if c.verify {
		if err := archive.Verify(c.kind, outputPath); err != nil {
			removePartial(outputPath)
			return &domain.ExportError{Kind: c.kind, Err: fmt.Errorf("verify archive: %w", err)}
		}
	}

	return nil
}

// removePartial drops whatever a failed dump left behind. A file that
// cannot be removed is left for the retention sweep.
func removePartial(path string) {
	_ = os.Remove(path)
}

var uriCredentials = regexp.MustCompile(`([a-z][a-z0-9+.-]*://[^:@/\s]+):[^@/\s]+@`)

// minRedactLen keeps very short secrets from masking unrelated text. A
// password embedded in a URI is still masked by uriCredentials.
const minRedactLen = 4

// redact masks every secret and any password embedded in a URI.
func redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if len(secret) < minRedactLen {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return uriCredentials.ReplaceAllString(s, "${1}:"+redacted+"@")
}
