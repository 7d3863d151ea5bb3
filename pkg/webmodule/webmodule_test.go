package webmodule

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vango-dev/conduit/pkg/cache"
)

// countingSource records every Open.
type countingSource struct {
	Source
	mu    sync.Mutex
	names []string
}

func (c *countingSource) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
	return c.Source.Open(ctx, name)
}

func (c *countingSource) opened() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

func TestCleanPath(t *testing.T) {
	ok := map[string]string{
		"app.js":          "app.js",
		"vendor/lib.js":   "vendor/lib.js",
		"vendor/lib.js/":  "vendor/lib.js",
		"with%20space.js": "with space.js",
		"a/b.c/d..e.js":   "a/b.c/d..e.js",
	}
	for in, want := range ok {
		got, err := CleanPath(in)
		if err != nil || got != want {
			t.Errorf("CleanPath(%q) = %q, %v; want %q", in, got, err, want)
		}
	}

	bad := []string{
		"",
		"/etc/passwd",
		"../secret",
		"a/../../secret",
		"a/./b.js",
		"a//b.js",
		"%2e%2e/secret",
		"..%2fsecret",
		"a\\..\\secret",
		"a\x00.js",
		"a%00.js",
		"C:/windows/win.ini",
		"%zz",
	}
	for _, in := range bad {
		if _, err := CleanPath(in); !errors.Is(err, ErrSuspiciousRequest) {
			t.Errorf("CleanPath(%q) err = %v, want ErrSuspiciousRequest", in, err)
		}
	}
}

func TestTraversalRejectedBeforeFileAccess(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "modules")
	if err := os.Mkdir(modules, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "secret"), []byte("top secret"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := &countingSource{Source: NewDirSource(modules)}
	h := NewHandler(src)

	for _, path := range []string{"/../secret", "/%2e%2e/secret", "/..%2Fsecret"} {
		rec := get(h, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "top secret") {
			t.Errorf("GET %s leaked file contents", path)
		}
	}
	if opened := src.opened(); len(opened) != 0 {
		t.Errorf("source opened %v for rejected paths", opened)
	}
}

func TestServeFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vendor"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vendor", "lib.js"), []byte("export const x = 1;"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(NewDirSource(dir))

	rec := get(h, "/vendor/lib.js")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "export const x = 1;" {
		t.Errorf("body = %q", rec.Body.String())
	}

	if rec := get(h, "/missing.js"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
	if rec := get(h, "/vendor"); rec.Code != http.StatusNotFound {
		t.Errorf("directory status = %d", rec.Code)
	}
}

func TestSymlinkOutsideRootRejected(t *testing.T) {
	root := t.TempDir()
	modules := filepath.Join(root, "modules")
	if err := os.MkdirAll(filepath.Join(modules, "vendor"), 0o755); err != nil {
		t.Fatal(err)
	}
	secret := filepath.Join(root, "secret.js")
	if err := os.WriteFile(secret, []byte("TOP-SECRET"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(modules, "vendor", "lib.js"), []byte("ok"), 0o644); err != nil {
		t.Fatal(err)
	}
	links := map[string]string{
		"leak.js":        secret,
		"relative.js":    filepath.Join("..", "secret.js"),
		"vendor/next.js": "lib.js",
	}
	for name, target := range links {
		if err := os.Symlink(target, filepath.Join(modules, filepath.FromSlash(name))); err != nil {
			t.Skipf("symlinks unavailable: %v", err)
		}
	}
	src := NewDirSource(modules)
	defer src.Close()
	h := NewHandler(src)

	for _, path := range []string{"/leak.js", "/relative.js"} {
		rec := get(h, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s status = %d, want 400", path, rec.Code)
		}
		if strings.Contains(rec.Body.String(), "TOP-SECRET") {
			t.Errorf("GET %s leaked file contents", path)
		}
	}
	if _, _, err := src.Open(context.Background(), "leak.js"); !errors.Is(err, ErrSuspiciousRequest) {
		t.Errorf("Open(leak.js) err = %v, want ErrSuspiciousRequest", err)
	}

	// Links that stay inside the directory are served.
	if rec := get(h, "/vendor/next.js"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("in-root link: status = %d body = %q", rec.Code, rec.Body.String())
	}
}

func TestSmallModulesAreCached(t *testing.T) {
	src := &countingSource{Source: NewFSSource(fstest.MapFS{
		"small.js": {Data: []byte("1")},
		"big.js":   {Data: bytes.Repeat([]byte("x"), 32)},
	})}
	c := cache.NewMemory(cache.WithCleanupInterval(0))
	h := NewHandler(src, WithCache(c), WithMaxCached(16))

	for i := 0; i < 3; i++ {
		if rec := get(h, "/small.js"); rec.Code != http.StatusOK {
			t.Fatalf("small status = %d", rec.Code)
		}
		if rec := get(h, "/big.js"); rec.Code != http.StatusOK || rec.Body.Len() != 32 {
			t.Fatalf("big status = %d len %d", rec.Code, rec.Body.Len())
		}
	}

	counts := map[string]int{}
	for _, n := range src.opened() {
		counts[n]++
	}
	if counts["small.js"] != 1 {
		t.Errorf("small.js opened %d times, want 1", counts["small.js"])
	}
	if counts["big.js"] != 3 {
		t.Errorf("big.js opened %d times, want 3", counts["big.js"])
	}
}

type fakeS3 struct {
	objects map[string]string
	err     error
	keys    []string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Key)
	f.keys = append(f.keys, aws.ToString(in.Bucket)+"/"+key)
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
	}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string]string{"web_modules/app.js": "console.log(1)"}}
	h := NewHandler(NewS3Source(client, "assets", "/web_modules/"))

	rec := get(h, "/app.js")
	if rec.Code != http.StatusOK || rec.Body.String() != "console.log(1)" {
		t.Fatalf("status = %d body = %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != ContentType {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec := get(h, "/nope.js"); rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rec.Code)
	}
	if client.keys[0] != "assets/web_modules/app.js" {
		t.Errorf("requested %v", client.keys)
	}

	client.err = errors.New("connection reset")
	if rec := get(h, "/app.js"); rec.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", rec.Code)
	}
}
