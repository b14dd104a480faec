package status

import (
	"errors"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bnema/rotator/internal/application"
)

var ErrUnexpectedRenderModel = errors.New("unexpected final bubbletea model type")

// model is a single-frame program: the pool view is rendered up front and
// the program quits immediately, leaving the frame as its final output.
type model struct {
	frame string
}

func newModel(statuses []application.Status, opts RenderOptions) model {
	return model{frame: renderView(statuses, opts, newStyles())}
}

func (m model) Init() tea.Cmd {
	return tea.Quit
}

func (m model) Update(tea.Msg) (tea.Model, tea.Cmd) {
	return m, tea.Quit
}

func (m model) View() string {
	return m.frame
}

func Render(statuses []application.Status, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(statuses, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok {
		return "", ErrUnexpectedRenderModel
	}

	return rendered.View(), nil
}
