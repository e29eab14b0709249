package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	simlin "github.com/bpowers/simlin-sub000"
	"github.com/bpowers/simlin-sub000/sim"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2D7D46")).
			Padding(0, 1)

	varStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	depStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2D7D46"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type inspectState int

const (
	stateBrowse inspectState = iota
	stateSeries
)

type varInfo struct {
	name string
	deps []string
}

type inspectModel struct {
	eng         simlin.Engine
	projectFile string
	modelName   string
	ltm         bool

	project *sim.Project
	model   *sim.Model
	sim     *sim.Sim

	vars     []varInfo
	filtered []int
	filter   textinput.Model
	selected int
	ran      bool

	series     []float64
	seriesName string

	err   error
	state inspectState
}

func newInspectModel(eng simlin.Engine, projectFile, modelName string, ltm bool) *inspectModel {
	filter := textinput.New()
	filter.Placeholder = "filter variables"
	filter.Prompt = "/ "
	filter.Width = 40

	return &inspectModel{
		eng:         eng,
		projectFile: projectFile,
		modelName:   modelName,
		ltm:         ltm,
		filter:      filter,
		state:       stateBrowse,
	}
}

type loadedMsg struct {
	err     error
	project *sim.Project
	model   *sim.Model
	sim     *sim.Sim
	vars    []varInfo
}

type ranMsg struct {
	err error
}

type seriesMsg struct {
	err    error
	name   string
	series []float64
}

func (m *inspectModel) Init() tea.Cmd {
	return m.loadProject
}

func (m *inspectModel) loadProject() tea.Msg {
	p, err := sim.OpenFile(m.eng, m.projectFile)
	if err != nil {
		return loadedMsg{err: err}
	}

	model, err := p.Model(m.modelName)
	if err != nil {
		p.Close()
		return loadedMsg{err: err}
	}

	s, err := model.NewSim(m.ltm)
	if err != nil {
		model.Close()
		p.Close()
		return loadedMsg{err: err}
	}

	names, err := model.VarNames()
	if err != nil {
		s.Close()
		model.Close()
		p.Close()
		return loadedMsg{err: err}
	}

	vars := make([]varInfo, 0, len(names))
	for _, name := range names {
		deps, err := model.IncomingLinks(name)
		if err != nil {
			s.Close()
			model.Close()
			p.Close()
			return loadedMsg{err: err}
		}
		vars = append(vars, varInfo{name: name, deps: deps})
	}

	return loadedMsg{project: p, model: model, sim: s, vars: vars}
}

func (m *inspectModel) runSim() tea.Msg {
	return ranMsg{err: m.sim.RunToEnd()}
}

func (m *inspectModel) fetchSeries() tea.Msg {
	name := m.vars[m.filtered[m.selected]].name
	series, err := m.sim.Series(name)
	return seriesMsg{err: err, name: name, series: series}
}

func (m *inspectModel) closeAll() {
	if m.sim != nil {
		m.sim.Close()
	}
	if m.model != nil {
		m.model.Close()
	}
	if m.project != nil {
		m.project.Close()
	}
}

func (m *inspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.closeAll()
			return m, tea.Quit

		case "q":
			if !m.filter.Focused() {
				m.closeAll()
				return m, tea.Quit
			}

		case "up", "ctrl+k":
			if m.state == stateBrowse && m.selected > 0 {
				m.selected--
			}

		case "down", "ctrl+j":
			if m.state == stateBrowse && m.selected < len(m.filtered)-1 {
				m.selected++
			}

		case "/":
			if m.state == stateBrowse && !m.filter.Focused() {
				m.filter.Focus()
				return m, nil
			}

		case "r":
			if m.state == stateBrowse && !m.filter.Focused() && m.sim != nil {
				return m, m.runSim
			}

		case "enter":
			switch m.state {
			case stateBrowse:
				if m.filter.Focused() {
					m.filter.Blur()
					return m, nil
				}
				if m.ran && len(m.filtered) > 0 {
					return m, m.fetchSeries
				}

			case stateSeries:
				m.state = stateBrowse
				m.series = nil
				m.err = nil
			}

		case "esc":
			switch {
			case m.filter.Focused():
				m.filter.Blur()
				m.filter.SetValue("")
				m.applyFilter()
			case m.state == stateSeries:
				m.state = stateBrowse
				m.series = nil
				m.err = nil
			}
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.project = msg.project
		m.model = msg.model
		m.sim = msg.sim
		m.vars = msg.vars
		m.applyFilter()

	case ranMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.ran = true

	case seriesMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.seriesName = msg.name
		m.series = msg.series
		m.state = stateSeries
	}

	if m.filter.Focused() {
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	return m, nil
}

func (m *inspectModel) applyFilter() {
	needle := strings.ToLower(m.filter.Value())
	m.filtered = m.filtered[:0]
	for i, v := range m.vars {
		if needle == "" || strings.Contains(strings.ToLower(v.name), needle) {
			m.filtered = append(m.filtered, i)
		}
	}
	if m.selected >= len(m.filtered) {
		m.selected = 0
	}
}

func (m *inspectModel) View() string {
	if m.err != nil && m.state == stateBrowse {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if m.project == nil {
		return "Loading project..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Sim Inspector"))
	b.WriteString(" ")
	b.WriteString(m.projectFile)
	if m.ran {
		b.WriteString(valueStyle.Render("  [simulated]"))
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
		for row, i := range m.filtered {
			v := m.vars[i]
			line := varStyle.Render(v.name)
			if len(v.deps) > 0 {
				line += depStyle.Render(" <- " + strings.Join(v.deps, ", "))
			}
			if row == m.selected {
				b.WriteString(selectedStyle.Render("> " + v.name))
				if len(v.deps) > 0 {
					b.WriteString(depStyle.Render(" <- " + strings.Join(v.deps, ", ")))
				}
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		help := "↑/↓ select • / filter • r run • q quit"
		if m.ran {
			help = "↑/↓ select • / filter • enter series • q quit"
		}
		b.WriteString(helpStyle.Render(help))

	case stateSeries:
		b.WriteString(fmt.Sprintf("Series for %s (%d steps):\n\n", varStyle.Render(m.seriesName), len(m.series)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			for i, v := range m.series {
				b.WriteString(valueStyle.Render(fmt.Sprintf("  [%4d] %g", i, v)))
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter back • q quit"))
	}

	return b.String()
}

func runInteractive(eng simlin.Engine, projectFile, modelName string, ltm bool) error {
	p := tea.NewProgram(newInspectModel(eng, projectFile, modelName, ltm), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
