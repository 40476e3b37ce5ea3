package web

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var spaceRun = regexp.MustCompile(`[ \t\r\n]+`)

// Fetch retrieves a page and renders it for tool consumption: markdown
// extraction unless raw is requested, an optional length cap, and the
// page URL as a leading context line.
func (s *Service) Fetch(ctx context.Context, pageURL string, maxLength int, raw bool) (string, error) {
	downloaded, err := s.GetPage(ctx, pageURL)
	if err != nil {
		return "", err
	}

	extracted := downloaded
	if !raw {
		if markdown, ok := ExtractMarkdown(downloaded); ok {
			extracted = markdown
		} else {
			extracted = addError(downloaded, "Extraction to markdown failed; returning raw content", false)
		}
	}

	if maxLength > 0 {
		if runes := []rune(extracted); len(runes) > maxLength {
			extracted = addError(string(runes[:maxLength]),
				fmt.Sprintf("Content truncated. The output has been limited to %d characters", maxLength), true)
		}
	}

	return fmt.Sprintf("Contents of %s:\n\n%s", pageURL, extracted), nil
}

// addError tags tool output with an inline error marker, appended or
// prepended.
func addError(text, errMsg string, appendTo bool) string {
	if appendTo {
		return fmt.Sprintf("%s\n\n<error>%s</error>", text, errMsg)
	}
	return fmt.Sprintf("<error>%s</error>\n\n%s", errMsg, text)
}

// ExtractMarkdown reduces an HTML document to markdown: title, headings,
// paragraphs with inline links, lists, quotes, code blocks and images.
// Script, style and navigation chrome are stripped first. Returns false when
// nothing meaningful could be extracted.
func ExtractMarkdown(htmlBody string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return "", false
	}

	doc.Find("script, style, nav, header, footer, aside, noscript, iframe").Remove()

	var blocks []string
	if title := collapseSpace(doc.Find("title").First().Text()); title != "" {
		blocks = append(blocks, "# "+title)
	}

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	root.Find("h1, h2, h3, h4, h5, h6, p, ul, ol, pre, blockquote, img").Each(func(_ int, sel *goquery.Selection) {
		// nested blocks render through their container
		if sel.ParentsFiltered("p, li, pre, blockquote").Length() > 0 {
			return
		}

		switch name := goquery.NodeName(sel); name {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			if text := collapseSpace(inlineText(sel)); text != "" {
				level := int(name[1] - '0')
				blocks = append(blocks, strings.Repeat("#", level)+" "+text)
			}
		case "p", "blockquote":
			if text := collapseSpace(inlineText(sel)); text != "" {
				if name == "blockquote" {
					text = "> " + text
				}
				blocks = append(blocks, text)
			}
		case "ul", "ol":
			var items []string
			sel.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
				if text := collapseSpace(inlineText(li)); text != "" {
					items = append(items, "- "+text)
				}
			})
			if len(items) > 0 {
				blocks = append(blocks, strings.Join(items, "\n"))
			}
		case "pre":
			if code := strings.TrimRight(sel.Text(), "\n"); strings.TrimSpace(code) != "" {
				blocks = append(blocks, "```\n"+code+"\n```")
			}
		case "img":
			blocks = append(blocks, imageMarkdown(sel))
		}
	})

	if len(blocks) == 0 {
		return "", false
	}
	return strings.Join(blocks, "\n\n"), true
}

// inlineText renders a node's children, converting anchors, emphasis, code
// spans and images to their markdown forms and recursing through everything
// else.
func inlineText(sel *goquery.Selection) string {
	var b strings.Builder
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		node := c.Get(0)
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			return
		}

		switch node.Data {
		case "a":
			href := c.AttrOr("href", "")
			text := collapseSpace(c.Text())
			if text == "" {
				text = href
			}
			if href == "" {
				b.WriteString(text)
			} else {
				fmt.Fprintf(&b, "[%s](%s)", text, href)
			}
		case "code":
			fmt.Fprintf(&b, "`%s`", c.Text())
		case "strong", "b":
			if text := collapseSpace(c.Text()); text != "" {
				fmt.Fprintf(&b, "**%s**", text)
			}
		case "em", "i":
			if text := collapseSpace(c.Text()); text != "" {
				fmt.Fprintf(&b, "*%s*", text)
			}
		case "img":
			b.WriteString(imageMarkdown(c))
		case "br":
			b.WriteString(" ")
		default:
			b.WriteString(inlineText(c))
		}
	})
	return b.String()
}

func imageMarkdown(sel *goquery.Selection) string {
	return fmt.Sprintf("![%s](%s)", sel.AttrOr("alt", ""), sel.AttrOr("src", ""))
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
