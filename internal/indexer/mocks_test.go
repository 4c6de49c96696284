package indexer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/your-org/indexflow/internal/mapping"
	"github.com/your-org/indexflow/pkg/procrun"
	"github.com/your-org/indexflow/pkg/repository"
)

type mockRepo struct{ mock.Mock }

func (m *mockRepo) FetchResourceAsText(ctx context.Context, entityID string) (string, error) {
	args := m.Called(ctx, entityID)
	return args.String(0), args.Error(1)
}

func (m *mockRepo) UploadArtifact(ctx context.Context, entityID, targetPath, localFile string, info repository.ContentInformation) (int, error) {
	args := m.Called(ctx, entityID, targetPath, localFile, info)
	return args.Int(0), args.Error(1)
}

func (m *mockRepo) WasUploadedBy(ctx context.Context, entityID, path, uploader string) (bool, error) {
	args := m.Called(ctx, entityID, path, uploader)
	return args.Bool(0), args.Error(1)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, executable, script string, argv ...string) procrun.Outcome {
	args := m.Called(ctx, executable, script, argv)
	return args.Get(0).(procrun.Outcome)
}

func (m *mockRunner) RunWithSinks(ctx context.Context, stdout, stderr io.Writer, executable, script string, argv ...string) procrun.Outcome {
	args := m.Called(ctx, executable, script, argv)
	return args.Get(0).(procrun.Outcome)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishJSON(ctx context.Context, key string, headers map[string]string, v any) error {
	args := m.Called(ctx, key, headers, v)
	return args.Error(0)
}

func (m *mockPublisher) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) PutFile(ctx context.Context, key, path, contentType string, metadata map[string]string) error {
	args := m.Called(ctx, key, path, contentType, metadata)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

const (
	testHandlerID   = "indexer"
	testContentType = "application/ld+json"
	copyTransformer = `#!/bin/sh
# usage: transformer.sh <rule> <source> <destination>
echo "applying $1 to $2"
cp "$2" "$3"
`
	failingTransformer = `#!/bin/sh
echo "mapping error in $1" >&2
exit 1
`
)

// fixture wires a Service around temporary directories: rulesDir holds
// rule files, workDir is the scratch root and inputDir holds content files.
type fixture struct {
	repo     *mockRepo
	rulesDir string
	workDir  string
	inputDir string
	script   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     new(mockRepo),
		rulesDir: t.TempDir(),
		workDir:  t.TempDir(),
		inputDir: t.TempDir(),
	}
	writeFile(t, filepath.Join(f.rulesDir, "ld.mapping"), "{}", 0o644)
	writeFile(t, filepath.Join(f.rulesDir, "resource.mapping"), "{}", 0o644)
	f.script = writeFile(t, filepath.Join(t.TempDir(), "transformer.sh"), copyTransformer, 0o755)
	return f
}

func (f *fixture) registry(table map[string]string) *mapping.Registry {
	if table == nil {
		table = map[string]string{
			testContentType:     "ld.mapping",
			ResourceContentType: "resource.mapping",
		}
	}
	return mapping.NewRegistry(f.rulesDir, table)
}

func (f *fixture) params(runner ProcessRunner) Params {
	return Params{
		Settings: Settings{
			HandlerID: testHandlerID,
			BaseURL:   "http://repo.local/api/v1/dataresources",
			Runtime:   "/bin/sh",
			Script:    f.script,
			WorkDir:   f.workDir,
		},
		Registry: f.registry(nil),
		Runner:   runner,
		Repo:     f.repo,
	}
}

func (f *fixture) service(runner ProcessRunner) *Service {
	return NewService(f.params(runner))
}

// input writes a content file and returns its file:// URI.
func (f *fixture) input(t *testing.T, name, content string) string {
	t.Helper()
	path := writeFile(t, filepath.Join(f.inputDir, name), content, 0o644)
	return "file://" + path
}

func (f *fixture) workDirEntries(t *testing.T) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(f.workDir)
	require.NoError(t, err)
	return entries
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func contentEvent(uri, relativePath string) InboundEvent {
	return InboundEvent{
		Category:    "dataresource",
		Action:      "create",
		SubCategory: SubCategoryData,
		Addressees:  []string{testHandlerID},
		EntityID:    "res-1",
		Metadata: map[string]string{
			PropertyContentType: testContentType,
			PropertyContentURI:  uri,
			PropertyContentPath: relativePath,
		},
	}
}

func resourceEvent() InboundEvent {
	return InboundEvent{
		Category:   "dataresource",
		Action:     "update",
		Addressees: []string{"other", testHandlerID},
		EntityID:   "res-1",
	}
}
