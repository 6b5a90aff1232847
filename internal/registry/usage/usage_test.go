package usage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"pandi/internal/registry/models"
	id "pandi/pkg/domain"
)

// fakeSource serves a canned set of references per role.
type fakeSource struct {
	refs      map[Role][]string
	repointed []string
	err       error
}

func (f *fakeSource) FindReferences(_ context.Context, role Role, _ id.EntityID) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.refs[role], nil
}

func (f *fakeSource) Repoint(_ context.Context, role Role, recordID string, _, _ id.EntityID) error {
	if f.err != nil {
		return f.err
	}
	f.repointed = append(f.repointed, string(role)+":"+recordID)
	return nil
}

type UsageIndexSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *UsageIndexSuite) SetupTest() {
	s.ctx = context.Background()
}

func TestUsageIndexSuite(t *testing.T) {
	suite.Run(t, new(UsageIndexSuite))
}

func (s *UsageIndexSuite) TestFind() {
	entityID := id.EntityID(uuid.New())

	s.Run("enumerates every role an entity type can occupy", func() {
		incidents := &fakeSource{refs: map[Role][]string{
			RoleMember:  {"rec-a", "rec-b"},
			RoleManager: {"rec-b"},
		}}
		index := NewIndex(map[RecordType]Source{RecordIncident: incidents})

		facts, err := index.Find(s.ctx, models.TypeMember, entityID)
		s.Require().NoError(err)
		s.Len(facts, 3)
		// Same record referencing through two roles yields two facts.
		s.Equal(Fact{RecordType: RecordIncident, RecordID: "rec-b", Role: RoleManager}, facts[0])
		s.Equal(Fact{RecordType: RecordIncident, RecordID: "rec-a", Role: RoleMember}, facts[1])
		s.Equal(Fact{RecordType: RecordIncident, RecordID: "rec-b", Role: RoleMember}, facts[2])
	})

	s.Run("spans record types for claim handlers", func() {
		incidents := &fakeSource{refs: map[Role][]string{RoleClaimHandler: {"incident-1"}}}
		feeLines := &fakeSource{refs: map[Role][]string{RoleCorrespondent: {"line-1", "line-2"}}}
		index := NewIndex(map[RecordType]Source{
			RecordIncident: incidents,
			RecordFeeLine:  feeLines,
		})

		facts, err := index.Find(s.ctx, models.TypeClaimHandler, entityID)
		s.Require().NoError(err)
		s.Len(facts, 3)
		s.Equal(RecordFeeLine, facts[0].RecordType)
		s.Equal(RecordIncident, facts[2].RecordType)
	})

	s.Run("unused entity yields empty, not nil error", func() {
		index := NewIndex(map[RecordType]Source{RecordIncident: &fakeSource{}})
		facts, err := index.Find(s.ctx, models.TypeVessel, entityID)
		s.Require().NoError(err)
		s.Empty(facts)
	})

	s.Run("source failure surfaces", func() {
		broken := &fakeSource{err: errors.New("store down")}
		index := NewIndex(map[RecordType]Source{RecordIncident: broken})
		_, err := index.Find(s.ctx, models.TypeVessel, entityID)
		s.Require().Error(err)
	})

	s.Run("missing source for a role is an error", func() {
		index := NewIndex(map[RecordType]Source{})
		_, err := index.Find(s.ctx, models.TypeVessel, entityID)
		s.Require().Error(err)
	})
}

func (s *UsageIndexSuite) TestRolesFor() {
	s.Run("member occupies two incident roles", func() {
		refs := RolesFor(models.TypeMember)
		s.Len(refs, 2)
	})

	s.Run("contact occupies both invoice roles", func() {
		refs := RolesFor(models.TypeContact)
		s.Len(refs, 2)
		s.Equal(RecordInvoice, refs[0].RecordType)
	})
}

func (s *UsageIndexSuite) TestRepoint() {
	from := id.EntityID(uuid.New())
	to := id.EntityID(uuid.New())

	s.Run("delegates to the owning source", func() {
		incidents := &fakeSource{refs: map[Role][]string{}}
		index := NewIndex(map[RecordType]Source{RecordIncident: incidents})

		err := index.Repoint(s.ctx, Fact{RecordType: RecordIncident, RecordID: "rec-1", Role: RoleVessel}, from, to)
		s.Require().NoError(err)
		s.Equal([]string{"vessel:rec-1"}, incidents.repointed)
	})

	s.Run("unknown record type is an error", func() {
		index := NewIndex(map[RecordType]Source{})
		err := index.Repoint(s.ctx, Fact{RecordType: RecordInvoice, RecordID: "x", Role: RoleContact}, from, to)
		s.Require().Error(err)
	})
}
