package drawer

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/askiada/vrdprep/internal/fileutil"
	"github.com/askiada/vrdprep/pkg/pipeline/measure"
	"github.com/askiada/vrdprep/pkg/pipeline/model"
)

// Vertex attributes rendered as the fields of a step record, in this order.
const (
	attrKind    = "kind"
	attrWorkers = "workers"
	attrItems   = "items"
	attrAvg     = "avg"
	attrEnd     = "end"
)

var recordFields = []string{attrKind, attrWorkers, attrItems, attrAvg, attrEnd}

// DOTDrawer writes the pipeline graph as a Graphviz DOT file. Each step is a record listing its kind,
// its workers and, once measured, the number of items it produced with their average duration.
type DOTDrawer struct {
	graph    graph.Graph[string, string]
	fileName string
}

// NewDOTDrawer creates a new DOT drawer writing to fileName.
func NewDOTDrawer(fileName string) *DOTDrawer {
	return &DOTDrawer{
		fileName: fileName,
		graph:    graph.New(graph.StringHash, graph.Directed()),
	}
}

// AddStep adds a step to the graph. Adding a step twice updates its attributes.
func (d *DOTDrawer) AddStep(step *model.StepInfo) error {
	attrs := map[string]string{}
	if step.Type != "" {
		attrs[attrKind] = string(step.Type)
	}
	if step.Concurrent > 1 || step.BufferSize > 0 {
		attrs[attrWorkers] = fmt.Sprintf("x%d buf %d", max(step.Concurrent, 1), step.BufferSize)
	}

	opts := make([]func(*graph.VertexProperties), 0, len(attrs))
	for k, v := range attrs {
		opts = append(opts, graph.VertexAttribute(k, v))
	}
	err := d.graph.AddVertex(step.Name, opts...)
	if errors.Is(err, graph.ErrVertexAlreadyExists) {
		return d.setAttributes(step.Name, attrs)
	}
	if err != nil {
		return errors.Wrapf(err, "unable to add vertex %s", step.Name)
	}

	return nil
}

// AddLink adds a link between parent and children steps.
func (d *DOTDrawer) AddLink(parentName, childrenName string) error {
	err := d.graph.AddEdge(parentName, childrenName)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return errors.Wrapf(err, "unable to add edge from %s to %s", parentName, childrenName)
	}

	return nil
}

// SetTotalTime records on the step the time elapsed since startTime.
func (d *DOTDrawer) SetTotalTime(stepName string, startTime time.Time) error {
	return d.setAttributes(stepName, map[string]string{attrEnd: "end " + round(time.Since(startTime)).String()})
}

func (d *DOTDrawer) setAttributes(name string, attrs map[string]string) error {
	_, properties, err := d.graph.VertexWithProperties(name)
	if err != nil {
		return errors.Wrapf(err, "unable to get %s vertex properties", name)
	}
	for k, v := range attrs {
		properties.Attributes[k] = v
	}

	return nil
}

// AddMeasure fills the step records with their measures and labels each link with the average
// time spent waiting on it, the slowest link drawn in red and the fastest in blue.
func (d *DOTDrawer) AddMeasure(msr measure.Measure) error {
	all := msr.AllMetrics()

	spread := transportSpread{}
	for _, step := range all {
		for _, info := range step.AVGTransportDuration() {
			spread.add(info.Elapsed)
		}
	}

	for name, step := range all {
		attrs := map[string]string{}
		if total := step.Total(); total > 0 {
			attrs[attrItems] = strconv.FormatInt(total, 10) + " items"
			attrs[attrAvg] = "avg " + step.AVGDuration().String()
		}
		if end := step.GetTotalDuration(); end > 0 {
			attrs[attrEnd] = "end " + end.String()
		}
		if err := d.setAttributes(name, attrs); err != nil {
			return err
		}

		for input, info := range step.AVGTransportDuration() {
			if info.Elapsed == 0 {
				continue
			}
			colour, err := spread.colour(info.Elapsed)
			if err != nil {
				return err
			}
			err = d.graph.UpdateEdge(input, name,
				graph.EdgeAttribute("label", info.Elapsed.String()),
				graph.EdgeAttribute("color", colour),
			)
			if err != nil && !errors.Is(err, graph.ErrEdgeNotFound) {
				return errors.Wrapf(err, "unable to update edge from %s to %s", input, name)
			}
		}
	}

	return nil
}

// Draw writes the DOT file, steps in topological order.
func (d *DOTDrawer) Draw() error {
	err := fileutil.WriteAtomic(d.fileName, d.render)
	if err != nil {
		return errors.Wrapf(err, "unable to write dot file %s", d.fileName)
	}

	return nil
}

func (d *DOTDrawer) render(w io.Writer) error {
	order, err := graph.StableTopologicalSort(d.graph, func(a, b string) bool { return a < b })
	if err != nil {
		return errors.Wrap(err, "unable to sort steps")
	}
	edges, err := d.graph.Edges()
	if err != nil {
		return errors.Wrap(err, "unable to list links")
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}

		return edges[i].Target < edges[j].Target
	})

	var b strings.Builder
	b.WriteString("digraph pipeline {\n\trankdir=LR;\n\tnode [shape=record, fontsize=11];\n")
	for _, name := range order {
		_, properties, err := d.graph.VertexWithProperties(name)
		if err != nil {
			return errors.Wrapf(err, "unable to get %s vertex properties", name)
		}
		fmt.Fprintf(&b, "\t%s [label=%s];\n", quote(name), quote(recordLabel(name, properties.Attributes)))
	}
	for _, edge := range edges {
		fmt.Fprintf(&b, "\t%s -> %s%s;\n", quote(edge.Source), quote(edge.Target), attributeList(edge.Properties.Attributes))
	}
	b.WriteString("}\n")

	_, err = io.WriteString(w, b.String())

	return errors.Wrap(err, "unable to write graph")
}

// recordLabel is "{name|field|...}" with the known fields of attrs.
func recordLabel(name string, attrs map[string]string) string {
	fields := []string{escapeRecord(name)}
	for _, key := range recordFields {
		if v := attrs[key]; v != "" {
			fields = append(fields, escapeRecord(v))
		}
	}

	return "{" + strings.Join(fields, "|") + "}"
}

func attributeList(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quote(attrs[k]))
	}

	return " [" + strings.Join(parts, ", ") + "]"
}

var (
	dotQuoter    = strings.NewReplacer(`"`, `\"`)
	recordQuoter = strings.NewReplacer(`{`, `\{`, `}`, `\}`, `|`, `\|`, `<`, `\<`, `>`, `\>`)
)

func quote(s string) string {
	return `"` + dotQuoter.Replace(s) + `"`
}

func escapeRecord(s string) string {
	return recordQuoter.Replace(s)
}

func round(d time.Duration) time.Duration {
	return d.Round(time.Microsecond)
}

const maxRGB = 240

// transportSpread tracks the fastest and slowest link to colour links relative to each other.
type transportSpread struct {
	min, max time.Duration
	seen     bool
}

func (s *transportSpread) add(elapsed time.Duration) {
	if elapsed == 0 {
		return
	}
	if !s.seen || elapsed < s.min {
		s.min = elapsed
	}
	if !s.seen || elapsed > s.max {
		s.max = elapsed
	}
	s.seen = true
}

func (s *transportSpread) colour(elapsed time.Duration) (string, error) {
	fraction := 1.0
	if s.max > s.min {
		fraction = float64(elapsed-s.min) / float64(s.max-s.min)
	}
	colour, err := colors.RGB(uint8(maxRGB*fraction), 0, uint8(maxRGB-maxRGB*fraction)) //nolint
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}

	return colour.ToHEX().String(), nil
}

var _ Drawer = (*DOTDrawer)(nil)
