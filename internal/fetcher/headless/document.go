package headless

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// documentTracker follows the main frame's document through redirects and
// records the response the page finally rendered from. Subframes and
// subresources are ignored.
type documentTracker struct {
	maxRedirects int
	onExceeded   func()

	mu        sync.Mutex
	mainFrame cdp.FrameID
	redirects int
	exceeded  bool
	status    int
	headers   http.Header
	url       string
}

func newDocumentTracker(maxRedirects int, onExceeded func()) *documentTracker {
	return &documentTracker{maxRedirects: maxRedirects, onExceeded: onExceeded}
}

// handle is registered with chromedp.ListenTarget.
func (d *documentTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		d.request(e)
	case *network.EventResponseReceived:
		d.response(e)
	}
}

func (d *documentTracker) request(e *network.EventRequestWillBeSent) {
	if e.Type != network.ResourceTypeDocument {
		return
	}
	d.mu.Lock()
	if d.mainFrame == "" {
		d.mainFrame = e.FrameID
	}
	if e.FrameID != d.mainFrame || e.RedirectResponse == nil {
		d.mu.Unlock()
		return
	}
	d.redirects++
	trip := d.redirects > d.maxRedirects && !d.exceeded
	if trip {
		d.exceeded = true
	}
	d.mu.Unlock()
	if trip && d.onExceeded != nil {
		d.onExceeded()
	}
}

func (d *documentTracker) response(e *network.EventResponseReceived) {
	if e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range e.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mainFrame == "" {
		d.mainFrame = e.FrameID
	}
	if e.FrameID != d.mainFrame {
		return
	}
	d.status = int(e.Response.Status)
	d.headers = headers
	d.url = e.Response.URL
}

func (d *documentTracker) redirectsExceeded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exceeded
}

// result returns the main document's status, headers and URL. The URL falls
// back to the browser location, then the requested URL.
func (d *documentTracker) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	headers := http.Header{}
	for k, values := range d.headers {
		headers[k] = append([]string(nil), values...)
	}
	url := d.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	return d.status, headers, url
}
