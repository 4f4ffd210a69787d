package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/chicogong/slot-compositor/pkg/schemas"
)

// Fetcher opens a source by path or URI
type Fetcher interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Decode reads one image from fetcher
func Decode(ctx context.Context, fetcher Fetcher, uri string) (image.Image, error) {
	rc, err := fetcher.Open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schemas.ErrMissingAsset, uri, err)
	}
	defer rc.Close()

	img, _, err := image.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schemas.ErrMissingAsset, uri, err)
	}
	if b := img.Bounds(); b.Empty() {
		return nil, fmt.Errorf("%w: %s has no pixels", schemas.ErrMissingAsset, uri)
	}
	return img, nil
}

// DecodeAll decodes every distinct uri with at most workers in flight.
// Sources that fail to decode are reported in failed instead of aborting
// the batch; only context cancellation fails the call.
func DecodeAll(ctx context.Context, fetcher Fetcher, uris []string, workers int) (decoded map[string]image.Image, failed map[string]error, err error) {
	if workers <= 0 {
		workers = 1
	}

	unique := make([]string, 0, len(uris))
	seen := make(map[string]bool, len(uris))
	for _, uri := range uris {
		if !seen[uri] {
			seen[uri] = true
			unique = append(unique, uri)
		}
	}

	images := make([]image.Image, len(unique))
	errs := make([]error, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, uri := range unique {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			images[i], errs[i] = Decode(gctx, fetcher, uri)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	decoded = make(map[string]image.Image, len(unique))
	failed = make(map[string]error)
	for i, uri := range unique {
		if errs[i] != nil {
			failed[uri] = errs[i]
			continue
		}
		decoded[uri] = images[i]
	}
	return decoded, failed, nil
}
