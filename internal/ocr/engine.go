// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/cve-harvest/internal/container"
	"github.com/pdiddy/cve-harvest/internal/logging"
	"github.com/pdiddy/cve-harvest/pkg/types"
)

const binTesseract = "tesseract"

// Engine turns a PNG image into text.
type Engine interface {
	// Name identifies the engine in logs.
	Name() string

	// Recognize runs OCR over png and returns the raw text.
	Recognize(ctx context.Context, png []byte) (string, error)
}

// tesseractArgs reads the image from stdin and writes text to stdout with
// the LSTM engine and single-block page segmentation.
func tesseractArgs(lang string) []string {
	if lang == "" {
		lang = "eng"
	}
	return []string{"stdin", "stdout", "--oem", "3", "--psm", "6", "-l", lang}
}

// runner abstracts command execution for testing.
type runner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error
}

type osRunner struct{}

func (osRunner) LookPath(file string) (string, error) { return exec.LookPath(file) }

func (osRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

// TesseractEngine runs a locally installed tesseract binary.
type TesseractEngine struct {
	path string
	lang string
	run  runner
}

func (e *TesseractEngine) Name() string { return "tesseract(" + e.path + ")" }

func (e *TesseractEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	var out bytes.Buffer
	if err := e.run.Run(ctx, e.path, tesseractArgs(e.lang), bytes.NewReader(png), &out); err != nil {
		return "", fmt.Errorf("running tesseract: %w", err)
	}
	return out.String(), nil
}

// ContainerEngine runs tesseract inside a container image through docker
// or podman.
type ContainerEngine struct {
	runtime container.Runtime
	image   string
	lang    string
}

func (e *ContainerEngine) Name() string { return e.runtime.Name() + "(" + e.image + ")" }

func (e *ContainerEngine) Recognize(ctx context.Context, png []byte) (string, error) {
	var out bytes.Buffer
	cmd := append([]string{binTesseract}, tesseractArgs(e.lang)...)
	if err := e.runtime.Run(ctx, e.image, cmd, bytes.NewReader(png), &out); err != nil {
		return "", fmt.Errorf("running tesseract container: %w", err)
	}
	return out.String(), nil
}

// NewContainerEngine verifies the image exists in rt before returning.
func NewContainerEngine(ctx context.Context, rt container.Runtime, image, lang string) (*ContainerEngine, error) {
	if err := rt.ImageExists(ctx, image); err != nil {
		return nil, fmt.Errorf("tesseract image not available in %s: %w", rt.Name(), err)
	}
	return &ContainerEngine{runtime: rt, image: image, lang: lang}, nil
}

// errNoEngine is returned when neither a binary nor a container image can
// run tesseract.
var errNoEngine = errors.New("no OCR engine available")

// detectRuntime is swapped by tests.
var detectRuntime = container.DetectRuntime

// NewEngine picks the OCR engine: the configured or PATH tesseract binary
// first, then the configured container image.
func NewEngine(ctx context.Context, cfg types.ValidatorConfig, log *zap.SugaredLogger) (Engine, error) {
	return newEngine(ctx, cfg, osRunner{}, logging.OrNop(log).Named("ocr"))
}

func newEngine(ctx context.Context, cfg types.ValidatorConfig, run runner, log *zap.SugaredLogger) (Engine, error) {
	bin := cfg.TesseractPath
	if bin == "" {
		bin = binTesseract
	}
	if path, err := run.LookPath(bin); err == nil {
		log.Debugw("using local tesseract", "path", path)
		return &TesseractEngine{path: path, lang: cfg.Language, run: run}, nil
	}

	if cfg.ContainerImage == "" {
		return nil, fmt.Errorf("%w: %s not on PATH and no container image configured", errNoEngine, bin)
	}
	rt, err := detectRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not on PATH: %w", errNoEngine, bin, err)
	}
	eng, err := NewContainerEngine(ctx, rt, cfg.ContainerImage, cfg.Language)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoEngine, err)
	}
	log.Debugw("using containerized tesseract", "runtime", rt.Name(), "image", cfg.ContainerImage)
	return eng, nil
}
