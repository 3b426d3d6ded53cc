package products

import (
	"net/url"
	"strconv"
)

// OptimizeImageURL adds CDN transform parameters (width, quality, auto format)
// to an absolute image URL. Existing values for those parameters are replaced,
// so applying it to an already optimised URL yields the same URL. Relative or
// unparsable URLs are returned unchanged.
func OptimizeImageURL(raw string, width, quality int) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	q := u.Query()
	if width > 0 {
		q.Set("w", strconv.Itoa(width))
	}
	if quality > 0 {
		q.Set("q", strconv.Itoa(quality))
	}
	q.Set("auto", "format")
	u.RawQuery = q.Encode()
	return u.String()
}

const (
	thumbnailWidth   = 400
	thumbnailQuality = 75
)

func withThumbnail(p Product) Product {
	if img := p.PrimaryImage(); img != "" {
		p.Thumbnail = OptimizeImageURL(img, thumbnailWidth, thumbnailQuality)
	}
	return p
}
