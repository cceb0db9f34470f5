// Package console renders live engine frames in the terminal.
package console

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/globe-engine/internal/layers"
	"github.com/signalsfoundry/globe-engine/internal/render"
	"github.com/signalsfoundry/globe-engine/model"
)

type (
	// FrameMsg carries a newly published frame.
	FrameMsg struct {
		Frame *render.Frame
	}

	// ReplyMsg carries the server's answer to a command.
	ReplyMsg struct {
		Reply render.Reply
	}

	// ErrMsg reports a lost connection or failed send.
	ErrMsg struct {
		Err error
	}
)

// Sender delivers commands to the engine.
type Sender interface {
	Send(cmd render.Command) error
}

// layerKeys maps the number keys to layers, in display order.
var layerKeys = []string{
	layers.NameSatellites,
	layers.NameInSitu,
	layers.NameInfra,
	layers.NameCables,
	layers.NameRegions,
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	frozenStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	visibleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	loadingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Model is the root Bubble Tea model.
type Model struct {
	sender Sender
	wait   tea.Cmd

	frame  *render.Frame
	cursor int
	status string
	err    error
}

// New builds a model. wait, when non-nil, is re-issued after every server
// message to keep receiving.
func New(sender Sender, wait tea.Cmd) Model {
	return Model{sender: sender, wait: wait}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd { return m.wait }

// Frame returns the last frame received.
func (m Model) Frame() *render.Frame { return m.frame }

// Status returns the status line.
func (m Model) Status() string { return m.status }

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case FrameMsg:
		m.frame = msg.Frame
		return m, m.wait

	case ReplyMsg:
		if msg.Reply.Type == render.ReplyReject {
			m.status = fmt.Sprintf("%s rejected: %s", msg.Reply.Command, msg.Reply.Reason)
		} else {
			m.status = fmt.Sprintf("%s ok", msg.Reply.Command)
		}
		return m, m.wait

	case ErrMsg:
		m.err = msg.Err
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "f", " ":
		m.send(render.Command{Type: render.CmdToggleFreeze})
	case "1", "2", "3", "4", "5":
		m.send(render.Command{Type: render.CmdToggleLayer, Layer: layerKeys[key[0]-'1']})
	case "n", "tab":
		m.selectNext(1)
	case "p", "shift+tab":
		m.selectNext(-1)
	case "u", "esc":
		m.send(render.Command{Type: render.CmdUnselect})
	case "+", "=":
		m.scaleMultiplier(2)
	case "-":
		m.scaleMultiplier(0.5)
	case "h":
		m.send(render.Command{Type: render.CmdToggleGroup, Group: "hubs"})
	case "r":
		m.send(render.Command{Type: render.CmdToggleGroup, Group: "producers"})
	}
	return m, nil
}

func (m *Model) send(cmd render.Command) {
	if m.sender == nil {
		return
	}
	if err := m.sender.Send(cmd); err != nil {
		m.status = fmt.Sprintf("%s failed: %v", cmd.Type, err)
	}
}

// selectNext cycles the selection through the visible satellites.
func (m *Model) selectNext(step int) {
	if m.frame == nil || len(m.frame.Objects) == 0 {
		m.status = "no satellites to select"
		return
	}
	n := len(m.frame.Objects)
	if m.frame.Selected != "" {
		for i, o := range m.frame.Objects {
			if o.Name == m.frame.Selected {
				m.cursor = i + step
				break
			}
		}
	}
	m.cursor = ((m.cursor % n) + n) % n
	m.send(render.Command{Type: render.CmdSelect, Kind: model.KindSatellite, Key: m.frame.Objects[m.cursor].Name})
}

func (m *Model) scaleMultiplier(factor float64) {
	if m.frame == nil {
		return
	}
	m.send(render.Command{Type: render.CmdSetMultiplier, Multiplier: m.frame.Multiplier * factor})
}

// View implements tea.Model.
func (m Model) View() string {
	if m.frame == nil {
		if m.err != nil {
			return errorStyle.Render("disconnected: "+m.err.Error()) + "\n"
		}
		return "Waiting for the first frame...\n"
	}
	f := m.frame

	var b strings.Builder
	clock := titleStyle.Render(f.Clock)
	if f.Frozen {
		clock += " " + frozenStyle.Render("FROZEN")
	}
	fmt.Fprintf(&b, "%s  x%g  frame %d\n", clock, f.Multiplier, f.Seq)
	fmt.Fprintf(&b, "camera %.2f, %.2f alt %.2f\n\n", f.Camera.Lat, f.Camera.Lng, f.Camera.Altitude)

	b.WriteString(panelStyle.Render(m.renderLayers()))
	b.WriteString("\n")

	if f.Selected != "" {
		fmt.Fprintf(&b, "selected %s\n", titleStyle.Render(f.Selected))
	}
	if m.status != "" {
		b.WriteString(dimStyle.Render(m.status) + "\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("disconnected: "+m.err.Error()) + "\n")
	}
	b.WriteString(dimStyle.Render("1-5 layers · f freeze · n/p select · u unselect · +/- speed · h/r groups · q quit"))
	return b.String()
}

func (m Model) renderLayers() string {
	f := m.frame
	counts := map[string]int{
		layers.NameSatellites: len(f.Objects),
		layers.NameInSitu:     len(f.Points),
		layers.NameInfra:      len(f.Labels),
		layers.NameCables:     len(f.Paths),
		layers.NameRegions:    len(f.Polygons),
	}
	var rows []string
	for i, name := range layerKeys {
		state := f.Layers[name]
		style := dimStyle
		switch state {
		case layers.Visible.String():
			style = visibleStyle
		case layers.Loading.String():
			style = loadingStyle
		}
		rows = append(rows, fmt.Sprintf("%d %-10s %s %5d", i+1, name, style.Render(fmt.Sprintf("%-7s", state)), counts[name]))
	}
	rows = append(rows, fmt.Sprintf("  routes %d · pulses %d", len(f.Arcs), len(f.Rings)))

	if len(f.Groups) > 0 {
		names := make([]string, 0, len(f.Groups))
		for g := range f.Groups {
			names = append(names, g)
		}
		sort.Strings(names)
		var parts []string
		for _, g := range names {
			mark := "off"
			if f.Groups[g] {
				mark = "on"
			}
			parts = append(parts, g+" "+mark)
		}
		rows = append(rows, "  groups "+strings.Join(parts, ", "))
	}
	return strings.Join(rows, "\n")
}
