package douban

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

// Item is one entry of a collection page before its external id is known
type Item struct {
	Title      string
	Rating     int // 0 when unrated
	Date       time.Time
	SubjectURL string
}

// dateFormats are the layouts the collection pages have used for comment dates
var dateFormats = []string{"2006-01-02", "2006.01.02", "2006/01/02"}

// ParseDate parses a comment date in any of the known layouts
func ParseDate(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// textStrategy pulls one string field out of an item block
type textStrategy func(item *goquery.Selection) (string, bool)

func firstText(selector string) textStrategy {
	return func(item *goquery.Selection) (string, bool) {
		sel := item.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := strings.TrimSpace(sel.Text())
		return text, text != ""
	}
}

var titleStrategies = []textStrategy{
	firstText("li.title em"),
	firstText(".title a"),
	firstText("a.title"),
}

var dateStrategies = []textStrategy{
	firstText("span.date"),
	firstText(".date"),
	firstText("time"),
	firstText(".time"),
	firstText(".collect-date"),
}

type ratingStrategy func(item *goquery.Selection) (int, bool)

var ratingStrategies = []ratingStrategy{
	ratingFromClass(`span[class*="rating"]`),
	ratingFromClass(".rate-stars"),
	ratingFromClass(".rating"),
}

// ratingFromClass reads the star count encoded as "ratingN-t" in a class list
func ratingFromClass(selector string) ratingStrategy {
	return func(item *goquery.Selection) (int, bool) {
		rating := 0
		item.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			class, _ := s.Attr("class")
			for _, c := range strings.Fields(class) {
				if n, ok := ParseRatingClass(c); ok {
					rating = n
					return false
				}
			}
			return true
		})
		return rating, rating != 0
	}
}

// ParseRatingClass turns "rating4-t" into 4. Values outside 1..5 are rejected.
func ParseRatingClass(class string) (int, bool) {
	if !strings.HasPrefix(class, "rating") || !strings.HasSuffix(class, "-t") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(class, "rating"), "-t"))
	if err != nil || n < 1 || n > 5 {
		return 0, false
	}
	return n, true
}

func firstString(item *goquery.Selection, strategies []textStrategy) (string, bool) {
	for _, s := range strategies {
		if v, ok := s(item); ok {
			return v, true
		}
	}
	return "", false
}

func firstRating(item *goquery.Selection) int {
	for _, s := range ratingStrategies {
		if v, ok := s(item); ok {
			return v
		}
	}
	return 0
}

// ExtractItems parses the item blocks of a collection page, newest first.
// It stops at the first item dated on or before cutoff and reports halted=true;
// that item and everything after it are dropped. Items without a date get today.
func ExtractItems(doc *goquery.Document, cutoff, today time.Time) (items []Item, halted bool) {
	blocks := doc.Find("div.item")
	if blocks.Length() == 0 {
		logrus.Warn("No movie items found on page, it may be empty or use a different layout")
		return nil, false
	}

	blocks.EachWithBreak(func(_ int, block *goquery.Selection) bool {
		title, ok := firstString(block, titleStrategies)
		if !ok {
			logrus.Warn("Could not find title element, skipping item")
			return true
		}

		href, ok := block.Find("a[href]").First().Attr("href")
		if !ok || href == "" {
			logrus.Warnf("No link found for %q, skipping item", title)
			return true
		}

		date := today
		if text, ok := firstString(block, dateStrategies); ok {
			parsed, ok := ParseDate(text)
			if !ok {
				logrus.Warnf("Unrecognized date %q for %q, skipping item", text, title)
				return true
			}
			date = parsed
		} else {
			logrus.Debugf("No date for %q, using today", title)
		}

		if !date.After(cutoff) {
			logrus.Infof("Reached %q dated %s, at or before the cutoff", title, date.Format("2006-01-02"))
			halted = true
			return false
		}

		items = append(items, Item{
			Title:      title,
			Rating:     firstRating(block),
			Date:       date,
			SubjectURL: href,
		})
		return true
	})

	return items, halted
}

// MaxPage returns the highest page number linked from the paginator, or 1
func MaxPage(doc *goquery.Document) int {
	highest := 1
	doc.Find("div.paginator a").Each(func(_ int, a *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(a.Text())); err == nil && n > highest {
			highest = n
		}
	})
	return highest
}

var (
	externalIDInHref = regexp.MustCompile(`tt\d+`)
	externalIDToken  = regexp.MustCompile(`^tt\d+$`)
)

type idStrategy func(doc *goquery.Document) (string, bool)

// idStrategies are tried in order on a subject page
var idStrategies = []idStrategy{
	idFromLabel,
	idFromLink,
	idFromInfoTokens,
}

// idFromLabel reads the text node right after the "IMDb:" label in #info
func idFromLabel(doc *goquery.Document) (string, bool) {
	var id string
	doc.Find("#info span.pl").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if !strings.Contains(label.Text(), "IMDb") {
			return true
		}
		next := label.Nodes[0].NextSibling
		if next == nil || next.Type != html.TextNode {
			return true
		}
		text := strings.TrimSpace(next.Data)
		if strings.HasPrefix(text, "tt") {
			id = text
			return false
		}
		return true
	})
	return id, id != ""
}

// idFromLink pulls the id out of a link to the destination site's title page
func idFromLink(doc *goquery.Document) (string, bool) {
	href, ok := doc.Find(`a[href*="imdb.com/title/tt"]`).First().Attr("href")
	if !ok {
		return "", false
	}
	id := externalIDInHref.FindString(href)
	return id, id != ""
}

// idFromInfoTokens scans every text fragment of #info for a bare id
func idFromInfoTokens(doc *goquery.Document) (string, bool) {
	var id string
	for _, n := range doc.Find("#info").Nodes {
		walkText(n, func(text string) bool {
			for _, tok := range strings.Fields(text) {
				if externalIDToken.MatchString(tok) {
					id = tok
					return false
				}
			}
			return true
		})
	}
	return id, id != ""
}

// walkText visits text nodes depth first until fn returns false
func walkText(n *html.Node, fn func(string) bool) bool {
	if n.Type == html.TextNode {
		return fn(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkText(c, fn) {
			return false
		}
	}
	return true
}

// ExtractExternalID finds the destination-site id on a subject page
func ExtractExternalID(doc *goquery.Document) (string, bool) {
	if doc.Find("#info").Length() == 0 {
		logrus.Debug("Subject page has no #info section")
	}
	for _, s := range idStrategies {
		if id, ok := s(doc); ok {
			return id, true
		}
	}
	return "", false
}
