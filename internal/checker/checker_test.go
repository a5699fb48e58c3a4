package checker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/winspan/ruleguard/pkg/logger"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sample = `# header comment
DOMAIN-SUFFIX,example.com,DIRECT
DOMAIN,bad..com
SCRIPT,foo
IP-CIDR,10.0.0.1
DOMAIN-SUFFIX,example.com,DIRECT
`

func TestValidateReportOnly(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "rules/a.list", sample)

	rep, err := Validate(context.Background(), []string{dir}, ValidateOptions{Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Files != 1 {
		t.Fatalf("files=%d, want=1", rep.Files)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Line != 3 || rep.Errors[0].Kind != "invalid_value_format" {
		t.Fatalf("errors=%+v", rep.Errors)
	}
	if len(rep.Warnings) != 2 {
		t.Fatalf("warnings=%+v, want unsupported + duplicate", rep.Warnings)
	}
	if rep.ExitCode() != 1 {
		t.Fatalf("exit=%d, want=1", rep.ExitCode())
	}
	data, _ := os.ReadFile(path)
	if string(data) != sample {
		t.Fatal("report-only run modified the file")
	}

	var out bytes.Buffer
	rep.Print(&out)
	if !strings.Contains(out.String(), "[error] invalid_value_format (1)") || !strings.Contains(out.String(), "a.list:3: DOMAIN,bad..com") {
		t.Fatalf("report output:\n%s", out.String())
	}
}

func TestValidateFix(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.list", sample)

	rep, err := Validate(context.Background(), []string{path}, ValidateOptions{Fix: true, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.ExitCode() != 0 {
		t.Fatalf("exit=%d after fix", rep.ExitCode())
	}
	if rep.Fixed != 4 {
		t.Fatalf("fixed=%d, want=4", rep.Fixed)
	}
	want := "# header comment\nDOMAIN-SUFFIX,example.com,DIRECT\nIP-CIDR,10.0.0.1/32\n"
	data, _ := os.ReadFile(path)
	if string(data) != want {
		t.Fatalf("fixed file=%q, want=%q", data, want)
	}

	rep, err = Validate(context.Background(), []string{path}, ValidateOptions{Logger: logger.Discard()})
	if err != nil || len(rep.Errors)+len(rep.Warnings) != 0 {
		t.Fatalf("fixed file still has issues: %+v %v", rep, err)
	}
}

func TestValidateFixKeepsCommentsAndCustomPolicies(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "groups.list", "# head\nDOMAIN,A.com # keep me\nDOMAIN,a.com,MyProxy\nDOMAIN,bad..com // broken\n")

	rep, err := Validate(context.Background(), []string{path}, ValidateOptions{Fix: true, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Fixed != 2 || len(rep.Errors) != 1 || len(rep.Warnings) != 0 {
		t.Fatalf("fixed=%d errors=%+v warnings=%+v", rep.Fixed, rep.Errors, rep.Warnings)
	}
	want := "# head\nDOMAIN,a.com # keep me\nDOMAIN,a.com,MyProxy\n"
	data, _ := os.ReadFile(path)
	if string(data) != want {
		t.Fatalf("fixed file=%q, want=%q", data, want)
	}
}

func TestValidateDomainSet(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "domainset/ads.txt", "ads.example.com\n+.track.example.com\n1.2.3.4\n")
	rep, err := Validate(context.Background(), []string{path}, ValidateOptions{Logger: logger.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 1 || rep.Errors[0].Line != 3 {
		t.Fatalf("errors=%+v", rep.Errors)
	}
}

type fakeOracle struct {
	mu    sync.Mutex
	dead  map[string]bool
	calls map[string]int
}

func (f *fakeOracle) IsDomainAlive(ctx context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	return !f.dead[key]
}

func TestCheckReportsAndRemovesDead(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.list", "DOMAIN,gone.com\nDOMAIN-SUFFIX,alive.com\nIP-CIDR,1.1.1.1/32\nDOMAIN-KEYWORD,gone\n")
	b := writeFile(t, dir, "b.list", "# keep\nDOMAIN,gone.com,REJECT\nDOMAIN,localhost\n")
	oracle := &fakeOracle{dead: map[string]bool{"gone.com": true}, calls: map[string]int{}}

	var progress bytes.Buffer
	rep, err := Check(context.Background(), []string{a, b}, oracle, CheckOptions{Progress: &progress, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(rep.Dead) != 2 || rep.ExitCode() != 1 {
		t.Fatalf("dead=%+v exit=%d", rep.Dead, rep.ExitCode())
	}
	if oracle.calls["gone.com"] != 1 || oracle.calls[".alive.com"] != 1 {
		t.Fatalf("calls=%v", oracle.calls)
	}
	if _, ok := oracle.calls["localhost"]; ok {
		t.Fatal("single-label name was checked")
	}

	rep, err = Check(context.Background(), []string{a, b}, oracle, CheckOptions{AutoRemove: true, Logger: logger.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Removed != 2 || rep.ExitCode() != 0 {
		t.Fatalf("removed=%d exit=%d", rep.Removed, rep.ExitCode())
	}
	data, _ := os.ReadFile(b)
	if string(data) != "# keep\nDOMAIN,localhost\n" {
		t.Fatalf("b.list=%q", data)
	}
	data, _ = os.ReadFile(a)
	if strings.Contains(string(data), "gone.com") || !strings.Contains(string(data), "DOMAIN-KEYWORD,gone") {
		t.Fatalf("a.list=%q", data)
	}
}

func TestWriteGitHubOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gh_output")
	if err := os.WriteFile(path, []byte("previous=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rep := &Report{Files: 2, Errors: []Issue{{}}, Fixed: 3}
	if err := rep.WriteGitHubOutput(path); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	want := "previous=1\nerrors=1\nwarnings=0\nfixed=3\ndead=0\nremoved=0\nfiles=2\n"
	if string(data) != want {
		t.Fatalf("output=%q, want=%q", data, want)
	}
	if err := rep.WriteGitHubOutput(""); err != nil {
		t.Fatal(err)
	}
}

func TestWarningsDoNotFail(t *testing.T) {
	rep := &Report{Warnings: []Issue{{Kind: "duplicate"}}}
	if rep.ExitCode() != 0 {
		t.Fatal("warnings failed the run")
	}
}
