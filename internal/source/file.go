package source

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
}

// fileProducer plays a still image, or every image of a directory in name
// order, looping until canceled.
func fileProducer(path string, interval time.Duration) producer {
	return func(ctx context.Context, emit func(image.Image)) error {
		files, err := listImages(path)
		if err != nil {
			return err
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		emitted := 0
		for i := 0; ; i = (i + 1) % len(files) {
			img, err := imaging.Open(files[i], imaging.AutoOrientation(true))
			if err != nil {
				if emitted == 0 && len(files) == 1 {
					return fmt.Errorf("decode %s: %w", files[i], err)
				}
				log.Warn("skip %s: %v", files[i], err)
			} else {
				emit(img)
				emitted++
			}

			// A full pass without a single decodable file will never recover.
			if i == len(files)-1 && emitted == 0 {
				return fmt.Errorf("%s: %w", path, ErrNoFrame)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func listImages(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images in %s", path)
	}
	sort.Strings(files)
	return files, nil
}
