// Package setup implements the interactive first run: it collects the
// access code, the center's postal code, and the contact data, then
// persists the booking record so later runs can start unattended.
package setup

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/impfbot/impfbot/internal/config"
	"github.com/impfbot/impfbot/internal/session"
)

type field int

const (
	fieldCode field = iota
	fieldPLZ
	fieldSalutation
	fieldFirstName
	fieldLastName
	fieldStreet
	fieldHouseNumber
	fieldHomePLZ
	fieldCity
	fieldPhone
	fieldMail
	fieldCount
)

var prompts = [fieldCount]string{
	fieldCode:        "Access code (XXXX-XXXX-XXXX)",
	fieldPLZ:         "Postal code of the center",
	fieldSalutation:  "Salutation (Frau/Herr/...)",
	fieldFirstName:   "First name",
	fieldLastName:    "Last name",
	fieldStreet:      "Street",
	fieldHouseNumber: "House number",
	fieldHomePLZ:     "Postal code of residence",
	fieldCity:        "City",
	fieldPhone:       "Phone (without +49)",
	fieldMail:        "Mail",
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	hintStyle    = lipgloss.NewStyle().Faint(true)
	blurredStyle = lipgloss.NewStyle().Faint(true)
)

// Model is the Bubble Tea model for the setup form.
type Model struct {
	inputs  [fieldCount]textinput.Model
	focus   field
	errText string
	done    bool
	aborted bool
}

// NewModel builds the form with the first field focused.
func NewModel() Model {
	var m Model
	for i := range m.inputs {
		in := textinput.New()
		in.Prompt = "> "
		in.CharLimit = 64
		m.inputs[i] = in
	}
	m.inputs[fieldCode].CharLimit = 14
	m.inputs[fieldPLZ].CharLimit = 5
	m.inputs[fieldHomePLZ].CharLimit = 5
	m.inputs[fieldCode].Focus()
	return m
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		case tea.KeyEnter:
			if err := m.validateFocused(); err != nil {
				m.errText = err.Error()
				return m, nil
			}
			m.errText = ""
			if m.focus == fieldCount-1 {
				m.done = true
				return m, tea.Quit
			}
			return m.setFocus(m.focus + 1)
		case tea.KeyTab, tea.KeyDown:
			return m.setFocus((m.focus + 1) % fieldCount)
		case tea.KeyShiftTab, tea.KeyUp:
			return m.setFocus((m.focus + fieldCount - 1) % fieldCount)
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("impfbot setup"))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("The record is stored locally; you will not be asked again."))
	b.WriteString("\n\n")

	for i := range m.inputs {
		label := promptStyle.Render(prompts[i])
		if field(i) != m.focus {
			label = blurredStyle.Render(prompts[i])
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(m.inputs[i].View())
		b.WriteString("\n")
	}

	if m.errText != "" {
		b.WriteString("\n")
		b.WriteString(errStyle.Render(m.errText))
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("enter: next field · esc: abort"))
	b.WriteString("\n")
	return b.String()
}

func (m *Model) setFocus(next field) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	m.focus = next
	return *m, m.inputs[m.focus].Focus()
}

func (m Model) validateFocused() error {
	value := strings.TrimSpace(m.inputs[m.focus].Value())
	switch m.focus {
	case fieldCode:
		_, err := session.ParseAccessCode(value)
		return err
	case fieldPLZ, fieldHomePLZ:
		if len(value) != 5 {
			return fmt.Errorf("postal code must have 5 digits")
		}
	default:
		if value == "" {
			return fmt.Errorf("field must not be empty")
		}
	}
	return nil
}

func (m Model) value(f field) string {
	return strings.TrimSpace(m.inputs[f].Value())
}

// Record converts the completed form into the persisted record.
func (m Model) Record() config.Config {
	phone := m.value(fieldPhone)
	if !strings.HasPrefix(phone, "+49") {
		phone = "+49" + phone
	}
	return config.Config{
		Code: strings.ToUpper(m.value(fieldCode)),
		PLZ:  m.value(fieldPLZ),
		Contact: config.Contact{
			Salutation:           m.value(fieldSalutation),
			FirstName:            m.value(fieldFirstName),
			LastName:             m.value(fieldLastName),
			Street:               m.value(fieldStreet),
			HouseNumber:          m.value(fieldHouseNumber),
			PostalCode:           m.value(fieldHomePLZ),
			City:                 m.value(fieldCity),
			Phone:                phone,
			NotificationChannel:  "email",
			NotificationReceiver: m.value(fieldMail),
		},
	}
}

// Run shows the form and persists the record at path on completion.
func Run(path string) error {
	final, err := tea.NewProgram(NewModel()).Run()
	if err != nil {
		return fmt.Errorf("run setup form: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return fmt.Errorf("unexpected final model %T", final)
	}
	if m.aborted {
		return fmt.Errorf("setup aborted")
	}

	record := m.Record()
	if err := config.Save(path, record); err != nil {
		return err
	}
	return nil
}
