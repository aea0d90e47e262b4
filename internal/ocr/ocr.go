// Package ocr recognizes receipt text with the tesseract CLI.
package ocr

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/expense-tracker/internal/extraction"
	"github.com/zombor/expense-tracker/internal/imaging"
)

// Result is recognized text plus the recognition score of each token.
type Result struct {
	Text   string
	Tokens extraction.TokenConfidence
}

// Recognizer turns a receipt image into text.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, contentType string) (*Result, error)
}

// Config selects the tesseract binary and languages.
type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Lang      string // default "tur+eng"
	PSM       int
}

// Tesseract implements Recognizer.
type Tesseract struct {
	cfg    Config
	runner Runner
}

// NewTesseract returns a recognizer running the real binary.
func NewTesseract(cfg Config) *Tesseract {
	return NewTesseractWithRunner(cfg, ExecRunner{})
}

// NewTesseractWithRunner allows injecting a fake runner for tests.
func NewTesseractWithRunner(cfg Config, runner Runner) *Tesseract {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "tur+eng"
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

// Recognize writes the image as PNG to a temp file and reads tesseract's TSV
// output from stdout.
func (t *Tesseract) Recognize(ctx context.Context, image []byte, contentType string) (*Result, error) {
	pngData, err := imaging.ToPNG(image, contentType)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "expense-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "receipt.png")
	if err := os.WriteFile(path, pngData, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp image: %w", err)
	}

	// tesseract <file> stdout -l <lang> [--psm n] tsv
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	args = append(args, "tsv")

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, args...)
	if err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(errb)))
	}
	return ParseTSV(string(out))
}

type lineKey struct {
	page, block, par, line int
}

// ParseTSV rebuilds the text line by line from tesseract TSV and averages the
// scores of repeated tokens. Rows with confidence -1 are layout rows.
func ParseTSV(tsv string) (*Result, error) {
	var (
		order []lineKey
		lines = map[lineKey][]string{}
		sums  = map[string]float64{}
		count = map[string]int{}
	)

	for i, row := range strings.Split(strings.ReplaceAll(tsv, "\r\n", "\n"), "\n") {
		if i == 0 && strings.HasPrefix(row, "level") {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}
		conf, err := strconv.ParseFloat(strings.TrimSpace(cols[10]), 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: parsing confidence %q: %w", i, cols[10], err)
		}
		word := strings.TrimSpace(cols[11])
		if conf < 0 || word == "" {
			continue
		}

		k, err := keyOf(cols)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if _, ok := lines[k]; !ok {
			order = append(order, k)
		}
		lines[k] = append(lines[k], word)
		sums[word] += conf
		count[word]++
	}

	text := make([]string, 0, len(order))
	for _, k := range order {
		text = append(text, strings.Join(lines[k], " "))
	}
	tokens := make(extraction.TokenConfidence, len(sums))
	for w, s := range sums {
		tokens[w] = int(math.Round(s / float64(count[w])))
	}
	return &Result{Text: strings.Join(text, "\n"), Tokens: tokens}, nil
}

func keyOf(cols []string) (lineKey, error) {
	var n [4]int
	for i := range n {
		v, err := strconv.Atoi(strings.TrimSpace(cols[i+1]))
		if err != nil {
			return lineKey{}, fmt.Errorf("parsing layout column %d: %w", i+1, err)
		}
		n[i] = v
	}
	return lineKey{page: n[0], block: n[1], par: n[2], line: n[3]}, nil
}
