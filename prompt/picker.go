package prompt

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ev3dev/ev3link"
	"github.com/ev3dev/ev3link/discovery"
)

var _ discovery.Picker = (*ListPicker)(nil)

var docStyle = lipgloss.NewStyle().Margin(1, 2)

var titleStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FFFDF5")).
	Background(lipgloss.Color("#B8312F")).
	Padding(0, 1)

// ListPicker shows the candidates in a full-screen list. Enter chooses, Esc or
// q dismisses.
type ListPicker struct {
	Title string

	in  io.Reader
	out io.Writer
}

// PickerOption configures a ListPicker.
type PickerOption func(*ListPicker)

// WithInput reads keys from r instead of stdin.
func WithInput(r io.Reader) PickerOption {
	return func(p *ListPicker) {
		p.in = r
	}
}

// WithOutput renders to w instead of stdout.
func WithOutput(w io.Writer) PickerOption {
	return func(p *ListPicker) {
		p.out = w
	}
}

// NewListPicker returns a picker titled title.
func NewListPicker(title string, opts ...PickerOption) *ListPicker {
	p := &ListPicker{Title: title}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Pick runs the list until the user decides or ctx is canceled.
func (p *ListPicker) Pick(ctx context.Context, candidates []ev3link.Endpoint) (ev3link.Endpoint, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}

	if p.in != nil {
		opts = append(opts, tea.WithInput(p.in))
	}

	if p.out != nil {
		opts = append(opts, tea.WithOutput(p.out))
	}

	final, err := tea.NewProgram(newPickerModel(p.Title, candidates), opts...).Run()
	if ctx.Err() != nil {
		return ev3link.Endpoint{}, ctx.Err()
	}

	if err != nil {
		return ev3link.Endpoint{}, fmt.Errorf("device picker failed: %w", err)
	}

	m, ok := final.(pickerModel)
	if !ok || m.chosen == nil {
		return ev3link.Endpoint{}, ev3link.ErrPromptCanceled
	}

	return *m.chosen, nil
}

// endpointItem implements list.DefaultItem for an endpoint.
type endpointItem struct {
	ep ev3link.Endpoint
}

func (i endpointItem) Title() string { return i.ep.String() }
func (i endpointItem) Description() string {
	return fmt.Sprintf("%s@%s  %s", i.ep.User, i.ep.Address(), i.ep.HomeDir())
}
func (i endpointItem) FilterValue() string { return i.ep.Name }

type pickerModel struct {
	list   list.Model
	chosen *ev3link.Endpoint
}

func newPickerModel(title string, candidates []ev3link.Endpoint) pickerModel {
	items := make([]list.Item, 0, len(candidates))
	for _, ep := range candidates {
		items = append(items, endpointItem{ep: ep})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.Styles.Title = titleStyle
	l.SetStatusBarItemName("device", "devices")
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	if len(candidates) == 0 {
		l.NewStatusMessage("searching for devices...")
	}

	return pickerModel{list: l}
}

func (m pickerModel) Init() tea.Cmd {
	return nil
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v)

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(endpointItem); ok {
				ep := item.ep
				m.chosen = &ep

				return m, tea.Quit
			}

			return m, nil

		case "esc", "q", "ctrl+c":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	return m, cmd
}

func (m pickerModel) View() string {
	return docStyle.Render(m.list.View())
}
