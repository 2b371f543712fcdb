package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"

	"dilag/internal/types"
)

const (
	designExt         = ".html"
	defaultScreenType = "web"
)

var ErrDesignNotFound = errors.New("design not found")

// LoadDesigns scans cwd and cwd/screens for HTML designs. A filename seen in
// cwd shadows the same name under screens/. Results are ordered oldest first.
func LoadDesigns(cwd string) ([]types.DesignFile, error) {
	designs := make([]types.DesignFile, 0)
	seen := map[string]struct{}{}
	for _, dir := range []string{cwd, filepath.Join(cwd, ScreensDirName)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !IsDesignFile(entry.Name()) {
				continue
			}
			if _, ok := seen[entry.Name()]; ok {
				continue
			}
			design, err := readDesign(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			seen[entry.Name()] = struct{}{}
			designs = append(designs, design)
		}
	}
	sort.SliceStable(designs, func(i, j int) bool {
		return designs[i].ModifiedAt < designs[j].ModifiedAt
	})
	return designs, nil
}

// FindDesign returns the on-disk path of filename within cwd or cwd/screens.
func FindDesign(cwd, filename string) (string, error) {
	name := filepath.Base(filename)
	for _, dir := range []string{cwd, filepath.Join(cwd, ScreensDirName)} {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s: %w", filename, ErrDesignNotFound)
}

func DeleteDesign(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrDesignNotFound)
		}
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// CopyDesigns copies src/screens/*.html into dst/screens and returns the
// number of files copied.
func CopyDesigns(srcCwd, dstCwd string) (int, error) {
	srcScreens := filepath.Join(srcCwd, ScreensDirName)
	dstScreens := filepath.Join(dstCwd, ScreensDirName)
	if err := os.MkdirAll(dstScreens, 0o755); err != nil {
		return 0, fmt.Errorf("create screens dir: %w", err)
	}
	entries, err := os.ReadDir(srcScreens)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	copied := 0
	for _, entry := range entries {
		if entry.IsDir() || !IsDesignFile(entry.Name()) {
			continue
		}
		if err := copyFile(filepath.Join(srcScreens, entry.Name()), filepath.Join(dstScreens, entry.Name())); err != nil {
			return copied, fmt.Errorf("copy %s: %w", entry.Name(), err)
		}
		copied++
	}
	return copied, nil
}

func IsDesignFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), designExt)
}

func readDesign(path string) (types.DesignFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.DesignFile{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return types.DesignFile{}, err
	}
	filename := filepath.Base(path)
	attrs := designAttributes(string(data))
	title := attrs["data-title"]
	if title == "" {
		title = TitleFromFilename(filename)
	}
	screenType := attrs["data-screen-type"]
	if screenType == "" {
		screenType = defaultScreenType
	}
	return types.DesignFile{
		Filename:   filename,
		Title:      title,
		ScreenType: screenType,
		HTML:       string(data),
		ModifiedAt: info.ModTime().Unix(),
	}, nil
}

// designAttributes returns the first value of each data-title and
// data-screen-type attribute found on any element.
func designAttributes(doc string) map[string]string {
	out := map[string]string{}
	tokenizer := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return out
		case html.StartTagToken, html.SelfClosingTagToken:
			for {
				key, val, more := tokenizer.TagAttr()
				name := string(key)
				if (name == "data-title" || name == "data-screen-type") && out[name] == "" {
					out[name] = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}
			if out["data-title"] != "" && out["data-screen-type"] != "" {
				return out
			}
		}
	}
}

// TitleFromFilename turns "pricing-page.html" into "Pricing Page".
func TitleFromFilename(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	words := strings.Split(base, "-")
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
