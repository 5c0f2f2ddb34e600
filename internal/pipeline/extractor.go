// internal/pipeline/extractor.go
package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/browser/locator"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/fetch"
)

// Extraction strategy names, in the order they are tried.
const (
	StrategyInlineData      = "inline_data"
	StrategyRemoteFetch     = "remote_fetch"
	StrategyElementCapture  = "element_capture"
	StrategyViewportCapture = "viewport_capture"
)

var (
	// errNotApplicable means a strategy had nothing to work with.
	errNotApplicable = errors.New("strategy not applicable")
	errNotDataURL    = errors.New("not an image data URL")
)

// ExtractionStrategy is one way of getting the table's bytes out of the
// page. images holds the qualifying image elements, best first; it may be
// empty.
type ExtractionStrategy interface {
	Name() string
	Attempt(ctx context.Context, page browser.Page, images []browser.Element) ([]byte, error)
}

// Extractor tries its strategies in order and returns the first image one
// of them produces.
type Extractor struct {
	logger     *zap.Logger
	images     locator.Strategy
	imageWait  time.Duration
	poll       time.Duration
	strategies []ExtractionStrategy
}

// NewExtractor builds the standard cascade: inline data, remote fetch,
// element capture, viewport capture. Remote fetches identify themselves
// with userAgent so they look like the browser that found the image.
func NewExtractor(logger *zap.Logger, cfg config.PipelineConfig, fetchCfg config.FetchConfig, userAgent string) *Extractor {
	logger = logger.Named("extractor")
	return &Extractor{
		logger: logger,
		images: locator.New("table image",
			locator.All(locator.Visible, locator.MinSize(cfg.MinImageWidth, cfg.MinImageHeight)),
			"img", "canvas"),
		imageWait: cfg.ImageWait,
		poll:      cfg.PollInterval,
		strategies: []ExtractionStrategy{
			InlineData{},
			RemoteFetch{Config: fetchCfg, UserAgent: userAgent, Logger: logger},
			ElementCapture{},
			ViewportCapture{},
		},
	}
}

// Extract returns an artifact from the first strategy that yields a valid
// image. As long as the session is alive the viewport capture succeeds, so
// an error almost always means the session or ctx is gone.
func (x *Extractor) Extract(ctx context.Context, page browser.Page) (*Artifact, error) {
	images, err := x.candidates(ctx, page)
	if err != nil {
		return nil, err
	}
	x.logger.Debug("Image candidates located.", zap.Int("count", len(images)))

	var errs []error
	for _, s := range x.strategies {
		data, err := s.Attempt(ctx, page, images)
		if err == nil {
			data, err = toPNG(data)
		}
		if err == nil {
			extractions.WithLabelValues(s.Name()).Inc()
			x.logger.Debug("Image extracted.", zap.String("strategy", s.Name()), zap.Int("bytes", len(data)))
			return &Artifact{Data: data, Format: FormatPNG, Strategy: s.Name()}, nil
		}
		if fatal(ctx, err) {
			return nil, err
		}
		if !errors.Is(err, errNotApplicable) {
			x.logger.Debug("Extraction strategy failed.", zap.String("strategy", s.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return nil, fmt.Errorf("no extraction strategy produced an image: %w", errors.Join(errs...))
}

// candidates waits up to imageWait for a qualifying image, then returns
// every qualifying one. Finding none is not an error.
func (x *Extractor) candidates(ctx context.Context, page browser.Page) ([]browser.Element, error) {
	_, ok, err := x.images.Await(ctx, page, x.imageWait, x.poll)
	if err != nil || !ok {
		return nil, err
	}
	return x.images.FindAll(ctx, page, 0)
}

// InlineData decodes an image embedded in a data: URL.
type InlineData struct{}

func (InlineData) Name() string { return StrategyInlineData }

func (InlineData) Attempt(_ context.Context, _ browser.Page, images []browser.Element) ([]byte, error) {
	var last error = errNotApplicable
	for _, img := range images {
		data, err := decodeDataURL(img.Src)
		if errors.Is(err, errNotDataURL) {
			continue
		}
		if err == nil {
			_, _, err = checkImage(data)
		}
		if err == nil {
			return data, nil
		}
		last = err
	}
	return nil, last
}

// decodeDataURL extracts the payload of a data:image/... URL.
func decodeDataURL(src string) ([]byte, error) {
	const prefix = "data:image/"
	if len(src) < len(prefix) || !strings.EqualFold(src[:len(prefix)], prefix) {
		return nil, errNotDataURL
	}
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, errors.New("data URL has no payload")
	}
	meta, payload := src[len("data:"):comma], src[comma+1:]

	if !strings.HasSuffix(strings.ToLower(meta), ";base64") {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("unescaping data URL: %w", err)
		}
		return []byte(s), nil
	}

	payload = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, payload)
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some encoders drop the padding.
		var rawErr error
		if data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr != nil {
			return nil, fmt.Errorf("decoding base64 payload: %w", err)
		}
	}
	if len(data) == 0 {
		return nil, errors.New("data URL payload is empty")
	}
	return data, nil
}

// RemoteFetch downloads the image from its http(s) or site-relative URL. A
// fresh client is built for every attempt and closed afterwards.
type RemoteFetch struct {
	Config    config.FetchConfig
	UserAgent string
	Logger    *zap.Logger
}

func (RemoteFetch) Name() string { return StrategyRemoteFetch }

func fetchable(src string) bool {
	return strings.HasPrefix(src, "http") || strings.HasPrefix(src, "/")
}

func (r RemoteFetch) Attempt(ctx context.Context, page browser.Page, images []browser.Element) ([]byte, error) {
	var srcs []string
	for _, img := range images {
		if fetchable(img.Src) {
			srcs = append(srcs, img.Src)
		}
	}
	if len(srcs) == 0 {
		return nil, errNotApplicable
	}

	base, err := page.CurrentURL(ctx)
	if err != nil {
		return nil, err
	}

	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ccfg := fetch.NewClientConfig(r.Config, logger)
	ccfg.UserAgent = r.UserAgent
	client := fetch.NewClient(ccfg)
	defer client.Close()

	var errs []error
	for _, src := range srcs {
		u, err := fetch.Resolve(base, src)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		data, _, err := client.Get(ctx, u)
		if err == nil {
			_, _, err = checkImage(data)
		}
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// ElementCapture screenshots the image element itself.
type ElementCapture struct{}

func (ElementCapture) Name() string { return StrategyElementCapture }

func (ElementCapture) Attempt(ctx context.Context, page browser.Page, images []browser.Element) ([]byte, error) {
	if len(images) == 0 {
		return nil, errNotApplicable
	}
	var errs []error
	for _, img := range images {
		data, err := page.CaptureElement(ctx, img.Ref)
		if err == nil {
			return data, nil
		}
		if fatal(ctx, err) {
			return nil, err
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// ViewportCapture screenshots the whole visible page.
type ViewportCapture struct{}

func (ViewportCapture) Name() string { return StrategyViewportCapture }

func (ViewportCapture) Attempt(ctx context.Context, page browser.Page, _ []browser.Element) ([]byte, error) {
	return page.CaptureViewport(ctx)
}
