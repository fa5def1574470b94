package extract

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

// skipped subtrees carry navigation and chrome rather than article text
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Nav: true,
	atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Form: true,
	atom.Svg: true, atom.Iframe: true, atom.Template: true, atom.Button: true,
}

var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Section: true,
	atom.Article: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Tr: true, atom.Blockquote: true, atom.Pre: true,
	atom.Ul: true, atom.Ol: true, atom.Table: true, atom.Main: true,
}

func (e *Extractor) extractLink(ctx context.Context, raw string) (Result, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Result{}, common.Permanent(fmt.Errorf("%w: invalid link %q", ErrUnsupportedFormat, raw))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, common.Permanent(err)
	}
	req.Header.Set("User-Agent", "clevernote/1.0 (+study notes)")
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.1")

	resp, err := e.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("fetch link: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return Result{}, common.Permanent(fmt.Errorf("fetch link: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxLinkBytes+1))
	if err != nil {
		return Result{}, fmt.Errorf("read link: %w", err)
	}
	var warns []string
	if int64(len(body)) > e.cfg.MaxLinkBytes {
		body = body[:e.cfg.MaxLinkBytes]
		warns = append(warns, "page truncated")
	}

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mt == "" || mt == "text/html" || mt == "application/xhtml+xml":
		title, text, err := HTMLToText(strings.NewReader(string(body)))
		if err != nil {
			return Result{}, common.Permanent(fmt.Errorf("parse html: %w", err))
		}
		if title != "" {
			text = title + "\n\n" + text
		}
		return Result{Text: text, Method: "link-html", Warnings: warns}, nil
	case strings.HasPrefix(mt, "text/"):
		return Result{Text: string(body), Method: "link-text", Warnings: warns}, nil
	}
	return Result{}, common.Permanent(fmt.Errorf("%w: link content type %s", ErrUnsupportedFormat, mt))
}

// HTMLToText returns the document title and its readable text, skipping scripts, styles and navigation.
func HTMLToText(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}
	var (
		title string
		b     strings.Builder
		walk  func(n *html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Title:
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case skipAtoms[n.DataAtom]:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockAtoms[n.DataAtom] {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return title, b.String(), nil
}
