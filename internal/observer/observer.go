// Package observer keeps a live HTML document filtered as it mutates. Each text
// node and image is classified once per distinct content; repeated or spurious
// mutation notifications are absorbed by a per-node marker.
package observer

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/tabwarden/tabwarden/internal/filter"
)

// BlurAttr marks an image the observer has blurred. Blur is never removed.
const BlurAttr = "data-tabwarden-blur"

const blurStyle = "filter: blur(24px);"

// MutationKind mirrors the record types a DOM mutation observer delivers.
type MutationKind int

const (
	ChildList MutationKind = iota
	Attributes
	CharacterData
)

// Mutation is one change notification for the document.
type Mutation struct {
	Kind          MutationKind
	Target        *html.Node
	Added         []*html.Node
	AttributeName string
}

// Classifier scores an image source in [0,1]. Implementations may be remote
// and may fail; failures never affect traversal.
type Classifier interface {
	Score(ctx context.Context, src string) (float64, error)
}

// Stats counts observer work since construction.
type Stats struct {
	TextClassified   int
	TextRedacted     int
	ImagesClassified int
	ImagesBlurred    int
	ClassifierErrors int
}

// Options configures an Observer.
type Options struct {
	Classifier        Classifier
	ClassifierTimeout time.Duration
	Concurrency       int
	Logger            zerolog.Logger
}

// Observer applies a filter.Filter to a document tree.
type Observer struct {
	mu     sync.Mutex
	filter *filter.Filter
	opts   Options
	log    zerolog.Logger

	// marks holds the content fingerprint each node was last classified with.
	marks map[*html.Node]string
	stats Stats
}

// New constructs an Observer around f.
func New(f *filter.Filter, opts Options) *Observer {
	if opts.ClassifierTimeout <= 0 {
		opts.ClassifierTimeout = 2 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Observer{
		filter: f,
		opts:   opts,
		log:    opts.Logger,
		marks:  make(map[*html.Node]string),
	}
}

// Attach classifies every text node and image under root once.
func (o *Observer) Attach(ctx context.Context, root *html.Node) {
	o.mu.Lock()
	var q workQueue
	q.addSubtree(root)
	remote := o.classifyLocal(q.nodes)
	o.mu.Unlock()
	o.applyRemote(ctx, remote)
}

// Notify processes a batch of mutation records. Nodes whose content did not
// change since their last classification are skipped. Remote image scoring
// runs without holding the observer lock, so later batches are not held up
// by classifier latency.
func (o *Observer) Notify(ctx context.Context, muts []Mutation) {
	o.mu.Lock()
	var q workQueue
	for _, m := range muts {
		switch m.Kind {
		case ChildList:
			for _, n := range m.Added {
				q.addSubtree(n)
			}
		case Attributes:
			if isImage(m.Target) && (m.AttributeName == "alt" || m.AttributeName == "src") {
				q.add(m.Target)
			}
		case CharacterData:
			if m.Target != nil && m.Target.Type == html.TextNode {
				q.add(m.Target)
			}
		}
	}
	remote := o.classifyLocal(q.nodes)
	o.mu.Unlock()
	o.applyRemote(ctx, remote)
}

// Stats returns a snapshot of the counters.
func (o *Observer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Forget drops markers for nodes no longer in the document.
func (o *Observer) Forget(nodes ...*html.Node) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, n := range nodes {
		walk(n, func(c *html.Node) { delete(o.marks, c) })
	}
}

type pendingScore struct {
	node  *html.Node
	fp    string
	alt   string
	src   string
	score float64
	err   error
}

// classifyLocal runs the local decisions for nodes and returns the images
// still waiting on the remote classifier. Caller holds o.mu.
func (o *Observer) classifyLocal(nodes []*html.Node) []*pendingScore {
	var remote []*pendingScore
	for _, n := range nodes {
		switch {
		case n.Type == html.TextNode:
			o.classifyText(n)
		case isImage(n):
			if p := o.classifyImage(n); p != nil {
				remote = append(remote, p)
			}
		}
	}
	return remote
}

// applyRemote scores reqs without the lock, then applies each result only if
// the image still carries the content it was scored for.
func (o *Observer) applyRemote(ctx context.Context, reqs []*pendingScore) {
	if len(reqs) == 0 {
		return
	}
	o.scoreRemote(ctx, reqs)

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range reqs {
		if o.marks[p.node] != p.fp {
			continue
		}
		if p.err != nil {
			o.stats.ClassifierErrors++
			o.log.Warn().Err(p.err).Str("src", p.src).Msg("image classifier failed; keeping local decision")
			continue
		}
		score := p.score
		if o.filter.DecideImage(filter.ImageInput{Alt: p.alt, Score: &score}) {
			o.blur(p.node)
		}
	}
}

func (o *Observer) classifyText(n *html.Node) {
	if skipText(n) {
		return
	}
	fp := "t:" + n.Data
	if o.marks[n] == fp {
		return
	}
	o.stats.TextClassified++
	red := o.filter.Redact(n.Data)
	if red != n.Data {
		n.Data = red
		o.stats.TextRedacted++
	}
	o.marks[n] = "t:" + red
}

// classifyImage applies the local alt-text decision and returns a pending
// remote scoring request when a classifier is configured and still relevant.
func (o *Observer) classifyImage(n *html.Node) *pendingScore {
	alt, src := attr(n, "alt"), attr(n, "src")
	fp := "i:" + alt + "\x00" + src
	if o.marks[n] == fp {
		return nil
	}
	o.marks[n] = fp
	o.stats.ImagesClassified++
	if o.filter.DecideImage(filter.ImageInput{Alt: alt}) {
		o.blur(n)
		return nil
	}
	if o.opts.Classifier == nil || src == "" || isBlurred(n) {
		return nil
	}
	return &pendingScore{node: n, fp: fp, alt: alt, src: src}
}

func (o *Observer) scoreRemote(ctx context.Context, reqs []*pendingScore) {
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, p := range reqs {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, o.opts.ClassifierTimeout)
			defer cancel()
			p.score, p.err = o.opts.Classifier.Score(cctx, p.src)
			// Failures are recorded per request, never propagated.
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Observer) blur(n *html.Node) {
	if isBlurred(n) {
		return
	}
	setAttr(n, BlurAttr, "1")
	style := attr(n, "style")
	if style != "" && !strings.HasSuffix(strings.TrimSpace(style), ";") {
		style += ";"
	}
	setAttr(n, "style", style+blurStyle)
	o.stats.ImagesBlurred++
}

type workQueue struct {
	nodes []*html.Node
	seen  map[*html.Node]bool
}

func (q *workQueue) add(n *html.Node) {
	if n == nil {
		return
	}
	if q.seen == nil {
		q.seen = make(map[*html.Node]bool)
	}
	if q.seen[n] {
		return
	}
	q.seen[n] = true
	q.nodes = append(q.nodes, n)
}

func (q *workQueue) addSubtree(root *html.Node) {
	walk(root, func(n *html.Node) {
		if n.Type == html.TextNode || isImage(n) {
			q.add(n)
		}
	})
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func isImage(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && n.DataAtom == atom.Img
}

func isBlurred(n *html.Node) bool { return attr(n, BlurAttr) == "1" }

// skipText excludes raw-text containers whose children are not rendered text.
func skipText(n *html.Node) bool {
	if strings.TrimSpace(n.Data) == "" {
		return true
	}
	p := n.Parent
	if p == nil || p.Type != html.ElementNode {
		return false
	}
	switch p.DataAtom {
	case atom.Script, atom.Style, atom.Template, atom.Noscript:
		return true
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
