package imaging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"crosspost/internal/publisher"
	logx "crosspost/pkg/logx"
)

// maxFetchBytes caps remote downloads so a hostile ref can't exhaust memory.
const maxFetchBytes = 20 << 20

var ErrUnsupportedRef = errors.New("unsupported image reference")

type Config struct {
	// UploadRoot resolves local/relative references.
	UploadRoot string
	// OutputDir receives adapted files. Defaults to UploadRoot/adapted.
	OutputDir string
	// FetchTimeout bounds one remote download attempt.
	FetchTimeout time.Duration
}

// Service implements publisher.ImageAdapter.
type Service struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	// Fetch cache: one download per ref per dispatch. Entries expire so
	// a later dispatch observes upstream changes.
	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	data    []byte
	fetched time.Time
}

const cacheTTL = time.Minute

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.OutputDir) == "" && strings.TrimSpace(cfg.UploadRoot) != "" {
		cfg.OutputDir = filepath.Join(cfg.UploadRoot, "adapted")
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		http:  &http.Client{Timeout: cfg.FetchTimeout},
		cache: map[string]cacheEntry{},
	}
}

// Adapt resizes/recompresses the referenced image to the given spec and
// returns the rewritten reference. The caller treats an error as
// non-fatal unless the target categorically rejects the source format.
func (s *Service) Adapt(ctx context.Context, ref string, spec publisher.ImageSpec) (string, error) {
	data, err := s.load(ctx, ref)
	if err != nil {
		return "", err
	}

	out, format, changed, err := process(data, spec)
	if err != nil {
		return "", fmt.Errorf("process %s: %w", ref, err)
	}
	if !changed {
		// Already conforms; keep the original reference.
		return ref, nil
	}

	path, err := s.write(out, format)
	if err != nil {
		return "", err
	}
	s.log.Debug("image adapted",
		logx.String("ref", ref),
		logx.String("out", path),
		logx.Int("bytes", len(out)))
	return path, nil
}

func (s *Service) load(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return s.fetch(ctx, ref)
	case strings.HasPrefix(ref, "data:"):
		return nil, ErrUnsupportedRef
	default:
		return s.readLocal(ref)
	}
}

func (s *Service) readLocal(ref string) ([]byte, error) {
	root := strings.TrimSpace(s.cfg.UploadRoot)
	if root == "" {
		return nil, fmt.Errorf("%w: no upload root for local ref %q", ErrUnsupportedRef, ref)
	}
	clean := filepath.Clean("/" + ref)
	path := filepath.Join(root, clean)
	// Keep resolution inside the upload root.
	if !strings.HasPrefix(path, filepath.Clean(root)+string(os.PathSeparator)) {
		return nil, fmt.Errorf("%w: ref escapes upload root: %q", ErrUnsupportedRef, ref)
	}
	return os.ReadFile(path)
}

// fetch downloads a remote image with bounded retry, serving repeats from
// the cache so one dispatch downloads each ref at most once.
func (s *Service) fetch(ctx context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	if e, ok := s.cache[url]; ok && time.Since(e.fetched) < cacheTTL {
		s.mu.Unlock()
		return e.data, nil
	}
	s.mu.Unlock()

	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(fmt.Errorf("fetch %s: status %d", url, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[url] = cacheEntry{data: data, fetched: time.Now()}
	s.mu.Unlock()
	return data, nil
}

func (s *Service) write(data []byte, format string) (string, error) {
	dir := strings.TrimSpace(s.cfg.OutputDir)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "crosspost-images")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	name := hex.EncodeToString(sum[:16]) + "." + extFor(format)
	path := filepath.Join(dir, name)
	// Content-addressed name: an existing file is the same bytes.
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func extFor(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return "bin"
	}
}
