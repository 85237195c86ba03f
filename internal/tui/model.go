package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bit2swaz/loramesh/internal/discovery"
	"github.com/bit2swaz/loramesh/internal/protocol"
	"github.com/bit2swaz/loramesh/internal/store"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"gorm.io/gorm"
)

// Client is what the terminal UI needs from the engine.
type Client interface {
	LocalID() protocol.DeviceID
	Send(recipient protocol.DeviceID, text string) (store.Message, error)
	Conversation(peer protocol.DeviceID) []store.Message
	Peers() []protocol.DeviceID
}

type tickMsg time.Time

type updateMsg store.Message

type peerMsg discovery.PeerInfo

// peerResync is how many ticks pass between peer table reloads when no
// sighting arrives, so the reaper's inactive marks still show up.
const peerResync = 30

type model struct {
	client    Client
	db        *gorm.DB
	updates   <-chan store.Message
	sightings <-chan discovery.PeerInfo
	ticks     int
	target    protocol.DeviceID
	peers     []store.Peer
	viewport  viewport.Model
	textInput textinput.Model
	status    string
	lastMsgAt time.Time
	width     int
	height    int
	ready     bool
}

func initialModel(client Client, db *gorm.DB, updates <-chan store.Message, sightings <-chan discovery.PeerInfo, target protocol.DeviceID) model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /to <device id>"
	ti.Focus()
	ti.CharLimit = 240 - protocol.DeliverHeaderLen
	ti.Width = 40

	if !target.Valid() {
		if peers := client.Peers(); len(peers) > 0 {
			target = peers[0]
		}
	}

	m := model{
		client:    client,
		db:        db,
		updates:   updates,
		sightings: sightings,
		target:    target,
		textInput: ti,
	}
	m.loadPeers()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tick(), waitForUpdate(m.updates), waitForSighting(m.sightings))
}

func tick() tea.Cmd {
	return tea.Tick(1*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForUpdate(ch <-chan store.Message) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return updateMsg(<-ch)
	}
}

func waitForSighting(ch <-chan discovery.PeerInfo) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		return peerMsg(<-ch)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tickMsg:
		m.ticks++
		if m.ticks%peerResync == 0 {
			m.loadPeers()
		}
		m.refresh()
		return m, tick()

	case peerMsg:
		m.loadPeers()
		return m, waitForSighting(m.sightings)

	case updateMsg:
		if msg.Peer == m.target {
			m.lastMsgAt = time.Now()
		}
		m.refresh()
		return m, waitForUpdate(m.updates)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			m.submit(strings.TrimSpace(m.textInput.Value()))
			m.textInput.Reset()
			m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		streamWidth, bodyHeight := m.layout()
		if !m.ready {
			m.viewport = viewport.New(streamWidth, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = streamWidth
			m.viewport.Height = bodyHeight
		}
		m.refresh()
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *model) submit(input string) {
	if input == "" {
		return
	}
	if strings.HasPrefix(input, "/to ") {
		id := protocol.DeviceID(strings.TrimSpace(strings.TrimPrefix(input, "/to ")))
		if !id.Valid() {
			m.status = fmt.Sprintf("device id must be %d characters", protocol.IDLen)
			return
		}
		m.target = id
		m.status = "talking to " + string(id)
		return
	}
	if !m.target.Valid() {
		m.status = "no conversation open, use /to <device id>"
		return
	}
	if _, err := m.client.Send(m.target, input); err != nil {
		m.status = "send failed: " + err.Error()
		return
	}
	m.status = ""
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(buildChatHistory(m.client.Conversation(m.target), m.client.LocalID(), m.target))
	m.viewport.GotoBottom()
}

func (m *model) loadPeers() {
	if m.db == nil {
		return
	}
	peers, err := store.GetPeers(m.db)
	if err != nil {
		m.status = "peer list unavailable: " + err.Error()
		return
	}
	sortPeers(peers)
	m.peers = peers
}

func (m model) layout() (streamWidth, bodyHeight int) {
	streamWidth = int(float64(m.width) * 0.7)
	bodyHeight = m.height - 4 // borders, input and status lines
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return streamWidth, bodyHeight
}

func sortPeers(peers []store.Peer) {
	sort.Slice(peers, func(i, j int) bool {
		// Active peers first
		if peers[i].IsActive && !peers[j].IsActive {
			return true
		}
		if !peers[i].IsActive && peers[j].IsActive {
			return false
		}
		// Then most recently heard
		return peers[i].LastSeen.After(peers[j].LastSeen)
	})
}

// StartTUI initializes and runs the TUI program
func StartTUI(client Client, db *gorm.DB, updates <-chan store.Message, sightings <-chan discovery.PeerInfo, target protocol.DeviceID) error {
	p := tea.NewProgram(initialModel(client, db, updates, sightings, target), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
