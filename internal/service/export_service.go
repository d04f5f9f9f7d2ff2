package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mule_analyzer/internal/config"
	"mule_analyzer/internal/processor"
	"mule_analyzer/internal/report"
	"mule_analyzer/internal/repository/sqlite"
	"mule_analyzer/pkg/crypto"
	"mule_analyzer/pkg/metrics"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type ArtifactKind string

const (
	ArtifactMarkdown ArtifactKind = "markdown"
	ArtifactHTML     ArtifactKind = "html"
	ArtifactStats    ArtifactKind = "stats"
	ArtifactFeatures ArtifactKind = "features"
	ArtifactMetrics  ArtifactKind = "metrics"
)

var ErrQueueClosed = errors.New("export queue closed")

// Artifact describes one written output file.
type Artifact struct {
	Name      string       `json:"name"`
	Kind      ArtifactKind `json:"kind"`
	Size      int64        `json:"size"`
	Digest    string       `json:"blake3"`
	Signature string       `json:"signature,omitempty"`
}

// ExportJob writes one artifact to path.
type ExportJob struct {
	Name      string
	Kind      ArtifactKind
	Write     func(ctx context.Context, path string) error
	CreatedAt time.Time
}

// ExportService writes artifacts on a pool of workers, then digests and
// signs each written file.
type ExportService struct {
	outDir    string
	signer    *crypto.Signer
	queue     chan ExportJob
	workers   int
	wg        sync.WaitGroup
	closeMu   sync.RWMutex
	closed    bool
	mu        sync.Mutex
	artifacts []Artifact
	errs      []error
	logger    *slog.Logger
}

// Manifest lists the artifacts of one run. Signature covers the manifest
// with an empty signature field.
type Manifest struct {
	RunID       string     `json:"run_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Artifacts   []Artifact `json:"artifacts"`
	Signature   string     `json:"signature,omitempty"`
}

func NewExportService(outDir string, signer *crypto.Signer, workers int, logger *slog.Logger) *ExportService {
	if logger == nil {
		logger = slog.Default()
	}
	if signer == nil {
		signer = crypto.NewSigner("", logger)
	}
	if workers < 1 {
		workers = 1
	}

	service := &ExportService{
		outDir:  outDir,
		signer:  signer,
		queue:   make(chan ExportJob, 64),
		workers: workers,
		logger:  logger,
	}

	service.startWorkers()

	return service
}

func (s *ExportService) Submit(ctx context.Context, job ExportJob) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return ErrQueueClosed
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	select {
	case s.queue <- job:
		s.logger.Debug("Export queued",
			slog.String("artifact", job.Name),
			slog.String("kind", string(job.Kind)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExportService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *ExportService) worker(id int) {
	defer s.wg.Done()

	for job := range s.queue {
		s.processJob(job, id)
	}
}

func (s *ExportService) processJob(job ExportJob, workerID int) {
	startTime := time.Now()
	path := filepath.Join(s.outDir, job.Name)

	artifact, err := s.write(job, path)
	duration := time.Since(startTime)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s: %w", job.Name, err))
		s.logger.Error("Failed to write artifact",
			slog.String("artifact", job.Name),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
		return
	}
	s.artifacts = append(s.artifacts, artifact)
	s.logger.Info("Artifact written",
		slog.String("artifact", job.Name),
		slog.Int64("size", artifact.Size),
		slog.Int("worker_id", workerID),
		slog.Duration("duration", duration))
}

func (s *ExportService) write(job ExportJob, path string) (Artifact, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Artifact{}, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := job.Write(context.Background(), path); err != nil {
		return Artifact{}, err
	}
	digest, size, err := crypto.DigestFile(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to digest: %w", err)
	}
	return Artifact{
		Name:      job.Name,
		Kind:      job.Kind,
		Size:      size,
		Digest:    digest,
		Signature: s.signer.SignArtifact(job.Name, digest, size),
	}, nil
}

// Close stops accepting jobs, waits for the queue to drain and returns
// the written artifacts sorted by name, plus every write error joined.
func (s *ExportService) Close(ctx context.Context) ([]Artifact, error) {
	s.closeMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	artifacts := append([]Artifact(nil), s.artifacts...)
	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	return artifacts, errors.Join(s.errs...)
}

// WriteManifest signs and writes the manifest of the given artifacts.
func (s *ExportService) WriteManifest(name, runID string, artifacts []Artifact) (*Manifest, error) {
	m := &Manifest{RunID: runID, GeneratedAt: time.Now().UTC().Truncate(time.Second), Artifacts: artifacts}
	sig, err := signManifest(s.signer, m)
	if err != nil {
		return nil, err
	}
	m.Signature = sig

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.outDir, name), append(data, '\n'), 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return m, nil
}

func signManifest(signer *crypto.Signer, m *Manifest) (string, error) {
	unsigned := *m
	unsigned.Signature = ""
	data, err := json.Marshal(unsigned)
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	return signer.Sign(data), nil
}

// VerifyManifest checks the manifest signature and every artifact digest
// against the files in dir.
func VerifyManifest(dir, name string, signer *crypto.Signer) (*Manifest, error) {
	if signer == nil {
		signer = crypto.NewSigner("", nil)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	unsigned := m
	unsigned.Signature = ""
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if _, err := signer.Verify(payload, m.Signature); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}

	for _, a := range m.Artifacts {
		digest, size, err := crypto.DigestFile(filepath.Join(dir, a.Name))
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", a.Name, err)
		}
		if digest != a.Digest || size != a.Size {
			return nil, fmt.Errorf("artifact %s: %w", a.Name, crypto.ErrInvalidSignature)
		}
		if _, err := signer.VerifyArtifact(a.Name, a.Digest, a.Size, a.Signature); err != nil {
			return nil, fmt.Errorf("artifact %s: %w", a.Name, err)
		}
	}
	return &m, nil
}

// Run is everything produced by one analysis run.
type Run struct {
	ID      string
	Result  *processor.Result
	Report  *report.Builder
	Metrics *metrics.MetricsCollector
	Title   string
	Output  config.OutputConfig
}

// Export queues every configured artifact of run, waits for them and
// writes the signed manifest.
func (s *ExportService) Export(ctx context.Context, run Run) (*Manifest, error) {
	out := run.Output
	markdown := report.Markdown(run.Report.Records())

	jobs := []ExportJob{
		{Name: out.Report, Kind: ArtifactMarkdown, Write: writeBytes(markdown)},
		{Name: out.Stats, Kind: ArtifactStats, Write: func(_ context.Context, path string) error {
			var buf bytes.Buffer
			if err := report.WriteStats(&buf, run.Report.Stats()); err != nil {
				return err
			}
			return os.WriteFile(path, buf.Bytes(), 0644)
		}},
	}
	if out.HTML {
		jobs = append(jobs, ExportJob{
			Name: strings.TrimSuffix(out.Report, filepath.Ext(out.Report)) + ".html",
			Kind: ArtifactHTML,
			Write: func(_ context.Context, path string) error {
				doc, err := report.HTML(run.Title, markdown)
				if err != nil {
					return err
				}
				return os.WriteFile(path, doc, 0644)
			},
		})
	}
	if out.FeatureDB != "" && run.Result != nil {
		jobs = append(jobs, ExportJob{Name: out.FeatureDB, Kind: ArtifactFeatures, Write: func(ctx context.Context, path string) error {
			store, err := sqlite.NewFeatureStore(path)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.SaveFeatures(ctx, run.ID, run.Result.Features)
		}})
	}
	if out.MetricsFile != "" && run.Metrics != nil {
		jobs = append(jobs, ExportJob{Name: out.MetricsFile, Kind: ArtifactMetrics, Write: func(_ context.Context, path string) error {
			return run.Metrics.WriteTextfile(path)
		}})
	}

	for _, job := range jobs {
		if job.Name == "" {
			continue
		}
		if err := s.Submit(ctx, job); err != nil {
			return nil, err
		}
	}

	artifacts, err := s.Close(ctx)
	if err != nil {
		return nil, err
	}
	return s.WriteManifest(out.Manifest, run.ID, artifacts)
}

func writeBytes(data []byte) func(context.Context, string) error {
	return func(_ context.Context, path string) error {
		return os.WriteFile(path, data, 0644)
	}
}
