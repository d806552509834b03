package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

// mjpegProducer reads a multipart/x-mixed-replace stream and decodes every part.
func mjpegProducer(client *http.Client, url string) producer {
	return func(ctx context.Context, emit func(image.Image)) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
		}

		mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if err != nil {
			return fmt.Errorf("content type: %w", err)
		}
		if !strings.HasPrefix(mediaType, "multipart/") {
			return fmt.Errorf("not an MJPEG stream: %s", mediaType)
		}
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart stream without boundary")
		}

		reader := multipart.NewReader(resp.Body, strings.TrimPrefix(boundary, "--"))
		for {
			part, err := reader.NextPart()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, io.EOF) {
					return io.ErrUnexpectedEOF
				}
				return err
			}

			img, _, err := image.Decode(part)
			_ = part.Close()
			if err != nil {
				log.Warn("skip undecodable part: %v", err)
				continue
			}
			emit(img)
		}
	}
}
