package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	logRetryDelay    = 10 * time.Second
	filePollInterval = 500 * time.Millisecond
)

// LogSource opens a follow-mode stream of server log lines.
type LogSource interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// LogTailer follows a LogSource, reopening it whenever the stream ends.
type LogTailer struct {
	source     LogSource
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewLogTailer(source LogSource, log zerolog.Logger) *LogTailer {
	return &LogTailer{
		source:     source,
		retryDelay: logRetryDelay,
		log:        log.With().Str("component", "logtail").Str("source", source.Name()).Logger(),
	}
}

// Run calls fn for every line until ctx is done.
func (t *LogTailer) Run(ctx context.Context, fn func(line string)) {
	for {
		if err := t.tail(ctx, fn); err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Warn().Err(err).Dur("retry_in", t.retryDelay).Msg("Log tail error")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.retryDelay):
		}
	}
}

func (t *LogTailer) tail(ctx context.Context, fn func(line string)) error {
	body, err := t.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer body.Close()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fn(scanner.Text())
	}
	return scanner.Err()
}

// FileLogSource follows a log file on local disk, starting at its current end.
type FileLogSource struct {
	Path string
	Poll time.Duration
}

func (f *FileLogSource) Name() string { return "file:" + f.Path }

func (f *FileLogSource) Open(ctx context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, err
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return nil, err
	}
	poll := f.Poll
	if poll <= 0 {
		poll = filePollInterval
	}
	return &followReader{ctx: ctx, file: file, offset: offset, poll: poll}, nil
}

// followReader blocks at EOF until the file grows, and rewinds when it is truncated.
type followReader struct {
	ctx    context.Context
	file   *os.File
	offset int64
	poll   time.Duration
}

func (r *followReader) Read(p []byte) (int, error) {
	for {
		n, err := r.file.Read(p)
		r.offset += int64(n)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if info, statErr := r.file.Stat(); statErr == nil && info.Size() < r.offset {
			if _, err := r.file.Seek(0, io.SeekStart); err != nil {
				return 0, err
			}
			r.offset = 0
			continue
		}
		select {
		case <-r.ctx.Done():
			return 0, io.EOF
		case <-time.After(r.poll):
		}
	}
}

func (r *followReader) Close() error { return r.file.Close() }

// PodLogSource follows the logs of the first pod matching a label selector.
type PodLogSource struct {
	k8s      *K8sClient
	podLabel string
	lastPod  string
	log      zerolog.Logger
}

func NewPodLogSource(k8s *K8sClient, podLabel string, log zerolog.Logger) *PodLogSource {
	return &PodLogSource{k8s: k8s, podLabel: podLabel, log: log}
}

func (p *PodLogSource) Name() string { return "pod:" + p.podLabel }

func (p *PodLogSource) Open(ctx context.Context) (io.ReadCloser, error) {
	podName, err := p.k8s.FindPod(ctx, p.podLabel)
	if err != nil {
		return nil, fmt.Errorf("find pod: %w", err)
	}
	if p.lastPod != podName {
		p.log.Info().Str("namespace", p.k8s.namespace).Str("pod", podName).Msg("Tailing pod logs")
		p.lastPod = podName
	}
	body, err := p.k8s.StreamLogs(ctx, podName)
	if err != nil {
		return nil, fmt.Errorf("stream logs: %w", err)
	}
	return body, nil
}
