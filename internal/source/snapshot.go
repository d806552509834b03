package source

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"
)

// snapshotProducer polls a camera bridge's still-image endpoint. The first
// failure aborts acquisition; later failures are logged and retried.
func snapshotProducer(client *http.Client, url string, interval time.Duration) producer {
	return func(ctx context.Context, emit func(image.Image)) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		acquired := false
		for {
			img, err := fetchImage(ctx, client, url)
			switch {
			case err == nil:
				emit(img)
				acquired = true
			case ctx.Err() != nil:
				return nil
			case !acquired:
				return err
			default:
				log.Warn("snapshot %s: %v", url, err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func fetchImage(ctx context.Context, client *http.Client, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}
