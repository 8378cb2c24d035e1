package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"gowa-sessions/internal/model"
	"gowa-sessions/internal/waclient"
)

const (
	defaultMediaMaxBytes = 16 << 20
	defaultMediaTimeout  = 30 * time.Second
	thumbnailSize        = 72
)

type Media struct {
	Data     []byte
	MimeType string
	FileName string
}

// MediaFetcher resolves a media reference into bytes.
type MediaFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Media, error)
}

type HTTPMediaFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPMediaFetcher(maxBytes int64, timeout time.Duration) *HTTPMediaFetcher {
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	return &HTTPMediaFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPMediaFetcher) Fetch(ctx context.Context, rawURL string) (*Media, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("media url %q is not an http(s) url", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: unexpected status %s", resp.Status)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("media is %d bytes, limit is %d", resp.ContentLength, f.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", f.maxBytes)
	}

	mimeType := ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = ""
	}
	return &Media{Data: data, MimeType: mimeType, FileName: name}, nil
}

// prepareMedia turns downloaded bytes into an outbound message. Images get a
// JPEG thumbnail; webp images are converted to JPEG since not every client
// renders them inline.
func prepareMedia(req MediaRequest, m *Media) (waclient.Outbound, error) {
	out := waclient.Outbound{
		Kind:    req.Kind,
		Caption: req.Caption,
		Media: &waclient.OutboundMedia{
			Data:     m.Data,
			MimeType: m.MimeType,
			FileName: req.FileName,
		},
	}
	if out.Media.FileName == "" {
		out.Media.FileName = m.FileName
	}

	switch req.Kind {
	case model.KindImage:
		img, err := decodeImage(m.Data, m.MimeType)
		if err != nil {
			return out, err
		}
		if m.MimeType == "image/webp" {
			data, err := encodeJPEG(img, 90)
			if err != nil {
				return out, err
			}
			out.Media.Data = data
			out.Media.MimeType = "image/jpeg"
		}
		thumb, err := encodeJPEG(imaging.Fit(img, thumbnailSize, thumbnailSize, imaging.Lanczos), 70)
		if err != nil {
			return out, err
		}
		out.Media.Thumbnail = thumb
	case model.KindAudio:
		if !strings.HasPrefix(out.Media.MimeType, "audio/") {
			out.Media.MimeType = "audio/mp4"
		}
	}
	return out, nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if mimeType == "image/webp" {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
