package screenshot

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/reindervandervoort/cad-pipeline/core/models"
)

// Image is one captured screenshot.
type Image struct {
	ViewName string
	PNG      []byte
}

// Capturer drives a headless browser against the 3D viewer to
// capture the configured views of a freshly published model version.
type Capturer struct {
	// ViewerURL is the viewer page; model and version are passed as
	// query parameters.
	ViewerURL string

	// LoadTimeout bounds how long one page load plus render may take.
	LoadTimeout time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

// NewCapturer creates a capturer against viewerURL.
func NewCapturer(viewerURL string) *Capturer {
	return &Capturer{ViewerURL: viewerURL, LoadTimeout: 30 * time.Second}
}

// connect lazily launches the shared headless browser.
func (c *Capturer) connect() (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return c.browser, nil
	}

	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	c.browser = browser
	return browser, nil
}

// Close tears down the browser.
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	err := c.browser.Close()
	c.browser = nil
	return err
}

// Capture renders the job's published assembly and captures every
// view. Partial results are returned with the error so the executor
// can upload what it got.
func (c *Capturer) Capture(ctx context.Context, job *models.Job, views []View) ([]Image, error) {
	browser, err := c.connect()
	if err != nil {
		return nil, err
	}

	pageURL := fmt.Sprintf("%s?model=%s&version=%s",
		c.ViewerURL, url.QueryEscape(job.ModelName), url.QueryEscape(job.Version))

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to open viewer page: %w", err)
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(c.LoadTimeout)
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("viewer page did not load: %w", err)
	}
	// The viewer sets window.modelReady once meshes are on screen.
	if _, err := page.Eval(`() => new Promise(resolve => {
		const check = () => window.modelReady ? resolve(true) : setTimeout(check, 250);
		check();
	})`); err != nil {
		return nil, fmt.Errorf("model never became ready: %w", err)
	}

	var images []Image
	for _, view := range views {
		_, err := page.Eval(`(pos, target, zoom) => window.setCamera(pos, target, zoom)`,
			view.Position, view.Target, view.Zoom)
		if err != nil {
			return images, fmt.Errorf("failed to position camera for view %s: %w", view.Name, err)
		}

		png, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return images, fmt.Errorf("failed to capture view %s: %w", view.Name, err)
		}
		images = append(images, Image{ViewName: view.Name, PNG: png})
	}
	return images, nil
}
