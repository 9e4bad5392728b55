package trac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/trac-client/pkg/util"
)

func testTicket(t *testing.T) *Ticket {
	t.Helper()
	conn, err := NewConnection("http://tracker.test", "alice", "secret")
	require.NoError(t, err)
	return NewTicket(conn)
}

func TestPropertyRule_CaseInsensitiveMatch(t *testing.T) {
	rule := PropertyRule{Allowed: []string{"defect", "enhancement", "task"}}

	assert.NoError(t, rule.Validate("defect"))
	assert.NoError(t, rule.Validate("DEFECT"))
	assert.NoError(t, rule.Validate("Task"))
}

func TestPropertyRule_RejectsUnknownValue(t *testing.T) {
	rule := PropertyRule{Allowed: []string{"defect", "enhancement"}}

	err := rule.Validate("feature")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, "VALIDATION_FAILED"))
}

func TestPropertyRule_EmptySetIsUnconstrained(t *testing.T) {
	rule := PropertyRule{}

	assert.NoError(t, rule.Validate("anything"))
	assert.NoError(t, rule.Validate(""))
}

func TestPropertyRule_AnchoredMatch(t *testing.T) {
	rule := PropertyRule{Allowed: []string{"defect"}}

	assert.Error(t, rule.Validate("defects"), "no substring or prefix matching")
	assert.Error(t, rule.Validate("a defect"))
	assert.NoError(t, rule.Validate(""), "blank clears the property")
}

func TestMetadataFor_StaticTable(t *testing.T) {
	ticket := testTicket(t)
	ticket.metadata = ticketMetadata{
		types:       []string{"defect"},
		priorities:  []string{"major"},
		components:  []string{"core"},
		milestones:  []string{"1.0"},
		severities:  []string{"severe"},
		resolutions: []string{"fixed"},
	}

	assert.Equal(t, []string{"defect"}, ticket.metadataFor("type"))
	assert.Equal(t, []string{"major"}, ticket.metadataFor("priority"))
	assert.Equal(t, []string{"core"}, ticket.metadataFor("component"))
	assert.Equal(t, []string{"1.0"}, ticket.metadataFor("milestone"))
	assert.Equal(t, []string{"severe"}, ticket.metadataFor("severity"))
	assert.Equal(t, []string{"fixed"}, ticket.metadataFor("resolution"))

	assert.Nil(t, ticket.metadataFor("summary"), "free-form properties have no cache")
	assert.Nil(t, ticket.metadataFor("owner"))
}

func TestValidateProperties(t *testing.T) {
	rules := map[string]PropertyRule{
		"type":    {Allowed: []string{"defect", "task"}},
		"summary": {},
	}

	assert.NoError(t, validateProperties(rules, map[string]string{"type": "Task", "summary": "anything at all"}))

	err := validateProperties(rules, map[string]string{"type": "wish"})
	require.Error(t, err)
	clientErr := apperrors.ToClientError(err)
	assert.Equal(t, "VALIDATION_FAILED", clientErr.Code)
	assert.Equal(t, "type", clientErr.Details["property"])

	err = validateProperties(rules, map[string]string{"resolution": "fixed"})
	require.Error(t, err, "properties outside the mode's rule set are rejected")
}
