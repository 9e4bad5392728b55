// Package tracktest provides an in-process tracker double speaking the HTML
// surface the client scrapes: login form, ticket forms, CSV exports and
// attachment pages. It exists for the test suite; it is not a tracker.
package tracktest

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// ticketProperties is the fixture's ticket schema, mirroring a stock tracker.
var ticketProperties = []string{
	"id", "summary", "type", "status", "priority", "severity", "resolution",
	"owner", "reporter", "cc", "description", "keywords", "component",
	"milestone", "version", "time", "changetime",
}

// PropChange is one recorded property transition.
type PropChange struct {
	Property string
	Old      string
	New      string
}

// Change is one entry in a ticket's change log.
type Change struct {
	Time    time.Time
	Author  string
	Comment string
	Changes []PropChange
}

// AttachmentFixture is one stored upload.
type AttachmentFixture struct {
	Filename    string
	Description string
	Author      string
	Uploaded    time.Time
	Body        []byte
}

type ticketFixture struct {
	props       map[string]string
	changes     []Change
	attachments []AttachmentFixture
}

// Server is the fake tracker. The permitted-value fields may be adjusted
// before the first client request to shape the advertised metadata.
type Server struct {
	Types       []string
	Priorities  []string
	Components  []string
	Milestones  []string
	Severities  []string
	Resolutions []string

	app *fiber.App
	ln  net.Listener

	user         string
	passwordHash []byte

	mu       sync.Mutex
	nextID   int
	tickets  map[int]*ticketFixture
	sessions map[string]string
}

// New starts a fake tracker accepting the given credentials on an ephemeral
// localhost port.
func New(user, password string) (*Server, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s := &Server{
		Types:       []string{"defect", "enhancement", "task"},
		Priorities:  []string{"blocker", "critical", "major", "minor", "trivial"},
		Components:  []string{"component1", "component2"},
		Milestones:  []string{"milestone1", "milestone2", "milestone3", "milestone4"},
		Severities:  []string{},
		Resolutions: []string{"fixed", "invalid", "wontfix", "duplicate", "worksforme"},

		user:         user,
		passwordHash: hash,
		nextID:       1,
		tickets:      make(map[int]*ticketFixture),
		sessions:     make(map[string]string),
	}

	// Immutable: handler-scoped strings from FormValue and Cookies land in
	// the long-lived fixture maps, so they must not alias fasthttp's reused
	// request buffers.
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
	})
	s.app = app
	s.registerRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.ln = ln
	go func() {
		_ = app.Listener(ln)
	}()
	return s, nil
}

// URL returns the tracker base URL.
func (s *Server) URL() string {
	return "http://" + s.ln.Addr().String()
}

// Close shuts the fake tracker down.
func (s *Server) Close() error {
	return s.app.Shutdown()
}

// Seed creates a ticket directly, bypassing the HTML surface, and returns
// its id. Missing core properties get tracker defaults.
func (s *Server) Seed(props map[string]string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	fixture := &ticketFixture{props: make(map[string]string, len(ticketProperties))}
	for _, name := range ticketProperties {
		fixture.props[name] = props[name]
	}
	fixture.props["id"] = strconv.Itoa(id)
	if fixture.props["status"] == "" {
		fixture.props["status"] = "new"
	}
	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	if fixture.props["time"] == "" {
		fixture.props["time"] = now
	}
	if fixture.props["changetime"] == "" {
		fixture.props["changetime"] = now
	}
	s.tickets[id] = fixture
	return id
}

// SeedAttachment stores an upload on a ticket without going through the form.
func (s *Server) SeedAttachment(id int, filename, description, author string, uploaded time.Time, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fixture, ok := s.tickets[id]; ok {
		fixture.attachments = append(fixture.attachments, AttachmentFixture{
			Filename:    filename,
			Description: description,
			Author:      author,
			Uploaded:    uploaded,
			Body:        body,
		})
	}
}

// SeedChange appends a change-log entry to a ticket.
func (s *Server) SeedChange(id int, author, comment string, at time.Time, changes []PropChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fixture, ok := s.tickets[id]; ok {
		fixture.changes = append(fixture.changes, Change{
			Time:    at,
			Author:  author,
			Comment: comment,
			Changes: changes,
		})
	}
}

// TicketProps returns a copy of a ticket's property map, or nil.
func (s *Server) TicketProps(id int) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fixture, ok := s.tickets[id]
	if !ok {
		return nil
	}
	props := make(map[string]string, len(fixture.props))
	for k, v := range fixture.props {
		props[k] = v
	}
	return props
}

// TicketChanges returns a copy of a ticket's change log.
func (s *Server) TicketChanges(id int) []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	fixture, ok := s.tickets[id]
	if !ok {
		return nil
	}
	return append([]Change{}, fixture.changes...)
}

// Attachments returns a copy of a ticket's stored uploads.
func (s *Server) Attachments(id int) []AttachmentFixture {
	s.mu.Lock()
	defer s.mu.Unlock()
	fixture, ok := s.tickets[id]
	if !ok {
		return nil
	}
	return append([]AttachmentFixture{}, fixture.attachments...)
}

func (s *Server) registerRoutes(app *fiber.App) {
	app.Use(s.requireSession)

	app.Get("/login", s.handleLoginPage)
	app.Post("/login", s.handleLogin)

	app.Get("/newticket", s.handleNewTicketPage)
	app.Post("/newticket", s.handleCreateTicket)

	app.Get("/ticket/:id", s.handleTicketPage)
	app.Post("/ticket/:id", s.handleUpdateTicket)

	app.Get("/query", s.handleQuery)

	app.Get("/attachment/ticket/:id/", s.handleAttachmentPage)
	app.Post("/attachment/ticket/:id/", s.handleAttachmentUpload)
}

func (s *Server) requireSession(c *fiber.Ctx) error {
	if c.Path() == "/login" {
		return c.Next()
	}
	if s.sessionUser(c) == "" {
		c.Type("html")
		return c.Status(fiber.StatusForbidden).SendString(errorPage("Authentication required"))
	}
	return c.Next()
}

func (s *Server) sessionUser(c *fiber.Ctx) string {
	cookie := c.Cookies("trac_auth")
	if cookie == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[cookie]
}

func (s *Server) handleLoginPage(c *fiber.Ctx) error {
	c.Type("html")
	if user := s.sessionUser(c); user != "" {
		return c.SendString(loggedInPage(user))
	}
	return c.SendString(loginFormPage(uuid.NewString()))
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	user := c.FormValue("user")
	password := c.FormValue("password")

	c.Type("html")
	if user != s.user || bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) != nil {
		return c.Status(fiber.StatusForbidden).SendString(loginFormPage(uuid.NewString()))
	}

	session := uuid.NewString()
	s.mu.Lock()
	s.sessions[session] = user
	s.mu.Unlock()

	c.Cookie(&fiber.Cookie{
		Name:     "trac_auth",
		Value:    session,
		Path:     "/",
		HTTPOnly: true,
	})
	return c.SendString(loggedInPage(user))
}

func (s *Server) handleNewTicketPage(c *fiber.Ctx) error {
	c.Type("html")
	return c.SendString(newTicketPage(s, uuid.NewString()))
}

func (s *Server) handleCreateTicket(c *fiber.Ctx) error {
	props := make(map[string]string)
	for _, name := range ticketProperties {
		if value := c.FormValue("field_" + name); value != "" {
			props[name] = value
		}
	}
	if props["summary"] == "" {
		c.Type("html")
		return c.Status(fiber.StatusBadRequest).SendString(errorPage("summary required"))
	}
	props["reporter"] = s.sessionUser(c)
	delete(props, "id")
	delete(props, "time")
	delete(props, "changetime")
	delete(props, "resolution")

	id := s.Seed(props)
	c.Type("html")
	return c.SendString(ticketCreatedPage(id, props["summary"]))
}

func (s *Server) handleTicketPage(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	s.mu.Lock()
	fixture, ok := s.tickets[id]
	s.mu.Unlock()
	if !ok {
		c.Type("html")
		return c.Status(fiber.StatusNotFound).SendString(errorPage(fmt.Sprintf("ticket %d does not exist", id)))
	}

	if c.Query("format") == "csv" {
		c.Set(fiber.HeaderContentType, "text/csv")
		return c.SendString(ticketCSV(fixture))
	}
	c.Type("html")
	return c.SendString(ticketPage(s, fixture))
}

func (s *Server) handleUpdateTicket(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	s.mu.Lock()
	fixture, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		c.Type("html")
		return c.Status(fiber.StatusNotFound).SendString(errorPage(fmt.Sprintf("ticket %d does not exist", id)))
	}

	var changes []PropChange
	for _, name := range ticketProperties {
		switch name {
		case "id", "time", "changetime":
			continue
		}
		if !c.Request().PostArgs().Has("field_" + name) {
			continue
		}
		value := c.FormValue("field_" + name)
		if value == fixture.props[name] {
			continue
		}
		changes = append(changes, PropChange{Property: name, Old: fixture.props[name], New: value})
		fixture.props[name] = value
	}
	comment := strings.TrimSpace(c.FormValue("comment"))
	if len(changes) > 0 || comment != "" {
		fixture.changes = append(fixture.changes, Change{
			Time:    time.Now().UTC(),
			Author:  s.sessions[c.Cookies("trac_auth")],
			Comment: comment,
			Changes: changes,
		})
		fixture.props["changetime"] = time.Now().UTC().Format("2006-01-02 15:04:05")
	}
	s.mu.Unlock()

	c.Type("html")
	return c.SendString(ticketPage(s, fixture))
}

func (s *Server) handleQuery(c *fiber.Ctx) error {
	if c.Query("format") != "csv" {
		return c.SendStatus(fiber.StatusNotImplemented)
	}

	filters := make(map[string]string)
	for _, name := range ticketProperties {
		if value := c.Query(name); value != "" {
			filters[name] = value
		}
	}

	s.mu.Lock()
	var matched []*ticketFixture
	for id := 1; id < s.nextID; id++ {
		fixture, ok := s.tickets[id]
		if !ok {
			continue
		}
		if matchesFilters(fixture.props, filters) {
			matched = append(matched, fixture)
		}
	}
	s.mu.Unlock()

	c.Set(fiber.HeaderContentType, "text/csv")
	return c.SendString(queryCSV(matched))
}

// matchesFilters applies the query module's basic operators: plain equality
// and "!" negation.
func matchesFilters(props, filters map[string]string) bool {
	for name, want := range filters {
		have := props[name]
		if negated, ok := strings.CutPrefix(want, "!"); ok {
			if have == negated {
				return false
			}
			continue
		}
		if have != want {
			return false
		}
	}
	return true
}

func (s *Server) handleAttachmentPage(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	s.mu.Lock()
	fixture, ok := s.tickets[id]
	s.mu.Unlock()
	if !ok {
		c.Type("html")
		return c.Status(fiber.StatusNotFound).SendString(errorPage(fmt.Sprintf("ticket %d does not exist", id)))
	}

	c.Type("html")
	if c.Query("action") == "new" {
		return c.SendString(attachFormPage(id, uuid.NewString()))
	}
	return c.SendString(attachmentIndexPage(id, fixture))
}

func (s *Server) handleAttachmentUpload(c *fiber.Ctx) error {
	id, err := strconv.Atoi(c.Params("id"))
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	header, err := c.FormFile("attachment")
	if err != nil {
		c.Type("html")
		return c.Status(fiber.StatusBadRequest).SendString(errorPage("attachment file required"))
	}
	file, err := header.Open()
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}
	defer file.Close()
	body, err := io.ReadAll(file)
	if err != nil {
		return c.SendStatus(fiber.StatusInternalServerError)
	}

	s.mu.Lock()
	fixture, ok := s.tickets[id]
	if !ok {
		s.mu.Unlock()
		c.Type("html")
		return c.Status(fiber.StatusNotFound).SendString(errorPage(fmt.Sprintf("ticket %d does not exist", id)))
	}
	fixture.attachments = append(fixture.attachments, AttachmentFixture{
		Filename:    header.Filename,
		Description: c.FormValue("description"),
		Author:      s.sessions[c.Cookies("trac_auth")],
		Uploaded:    time.Now().UTC(),
		Body:        body,
	})
	s.mu.Unlock()

	c.Type("html")
	return c.SendString(attachmentIndexPage(id, fixture))
}
