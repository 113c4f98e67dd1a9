// Package seedfile loads seed content from local files: plain text and
// markdown split on blank lines, JSONL records, and PDF documents.
package seedfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// maxDirWorkers bounds concurrent file parsing when loading a directory.
const maxDirWorkers = 4

// Load reads seeds from path. A directory is walked recursively; files
// with unrecognized extensions are skipped there but rejected when named
// directly.
func Load(ctx context.Context, path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if info.IsDir() {
		return loadDir(ctx, path)
	}
	seeds, ok, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unsupported seed file type: %s", path)
	}
	return seeds, nil
}

// loadFile parses a single file. The second return is false when the
// extension is not one of the supported types.
func loadFile(path string) ([]string, bool, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		seeds, err := loadText(path)
		return seeds, true, err
	case ".jsonl":
		seeds, err := loadJSONL(path)
		return seeds, true, err
	case ".pdf":
		seeds, err := loadPDF(path)
		return seeds, true, err
	default:
		return nil, false, nil
	}
}

// loadDir parses every supported file under dir, a few at a time, and
// returns their seeds in path order.
func loadDir(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md", ".jsonl", ".pdf":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	sort.Strings(paths)

	var (
		mu     sync.Mutex
		byPath = make(map[string][]string, len(paths))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDirWorkers)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			seeds, _, err := loadFile(p)
			if err != nil {
				return fmt.Errorf("loading %s: %w", p, err)
			}
			mu.Lock()
			byPath[p] = seeds
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []string
	for _, p := range paths {
		out = append(out, byPath[p]...)
	}
	return out, nil
}

// loadText splits a text or markdown file into blank-line-separated
// blocks. Each block is one seed.
func loadText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var (
		seeds []string
		block strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(block.String()); s != "" {
			seeds = append(seeds, s)
		}
		block.Reset()
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if block.Len() > 0 {
			block.WriteByte('\n')
		}
		block.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	flush()
	return seeds, nil
}

// loadJSONL reads one seed per line. A line may be a bare JSON string or
// an object with one of the common content fields.
func loadJSONL(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var seeds []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var asString string
		if err := json.Unmarshal([]byte(line), &asString); err == nil {
			seeds = append(seeds, asString)
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		content, ok := contentOf(obj)
		if !ok {
			return nil, fmt.Errorf("%s:%d: no content field", path, lineNo)
		}
		seeds = append(seeds, content)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return seeds, nil
}

var contentFields = []string{"text", "content", "question", "prompt", "instruction", "input"}

func contentOf(obj map[string]any) (string, bool) {
	for _, name := range contentFields {
		if v, ok := obj[name]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// loadPDF extracts plain text from a PDF, one seed per page.
func loadPDF(path string) ([]string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var seeds []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extracting page %d of %s: %w", i, path, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			seeds = append(seeds, text)
		}
	}
	return seeds, nil
}
