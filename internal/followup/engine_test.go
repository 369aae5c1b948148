// Copyright (C) 2020  Lukas Dietrich <lukas@lukasdietrich.com>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package followup

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"github.com/lukasdietrich/briefcast/internal/campaign"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/mailbox"
	"github.com/lukasdietrich/briefcast/internal/models"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

var sentAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func TestOptionsFromViper(t *testing.T) {
	viper.Set("followup.delay.min", "1s")
	viper.Set("followup.delay.max", "3s")

	expected := Options{
		DelayMin: time.Second,
		DelayMax: 3 * time.Second,
	}
	assert.Equal(t, expected, OptionsFromViper())
}

func TestFollowUpTestSuite(t *testing.T) {
	suite.Run(t, new(FollowUpTestSuite))
	goleak.VerifyNone(t)
}

type FollowUpTestSuite struct {
	suite.Suite

	fs          afero.Fs
	store       *storage.Store
	logs        *storage.CampaignLogs
	registry    *campaign.Registry
	coordinator *campaign.Coordinator
	sender      *delivery.MockSender
	opener      *mailbox.MockOpener
	session     *mailbox.MockSession
	engine      *Engine
	sleeps      []time.Duration
	progress    []Progress
}

func (s *FollowUpTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()

	store, err := storage.NewStore(s.fs, storage.StoreOptions{Foldername: "/data"})
	s.Require().NoError(err)

	bodies, err := storage.NewBodies(s.fs, storage.BodiesOptions{Foldername: "/data/bodies"})
	s.Require().NoError(err)

	logs, err := storage.NewCampaignLogs(s.fs, storage.CampaignLogsOptions{Foldername: "/data/logs"})
	s.Require().NoError(err)

	s.store = store
	s.logs = logs
	s.registry = campaign.NewRegistry(logs)
	s.coordinator = campaign.NewCoordinator()
	s.sender = new(delivery.MockSender)
	s.opener = new(mailbox.MockOpener)
	s.session = new(mailbox.MockSession)
	s.sleeps = nil
	s.progress = nil

	s.engine = NewEngine(store, bodies, s.sender, s.opener, s.registry, s.coordinator, Options{
		DelayMin: 5 * time.Second,
		DelayMax: 10 * time.Second,
	})
	s.engine.random = rand.New(rand.NewSource(1))
	s.engine.sleep = func(ctx context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return ctx.Err()
	}
	s.engine.OnProgress(func(p Progress) {
		s.progress = append(s.progress, p)
	})

	s.Require().NoError(store.Put(storage.KindIdentities, []models.SenderIdentity{
		{Address: "one@sender.com", TransportHost: "smtp.sender.com", MailboxHost: "imap.sender.com"},
		{Address: "nobox@sender.com", TransportHost: "smtp.sender.com"},
	}))
}

func (s *FollowUpTestSuite) TearDownTest() {
	mock.AssertExpectationsForObjects(s.T(), s.sender, s.opener, s.session)
}

func (s *FollowUpTestSuite) requireTemplates(contents ...string) {
	templates := make([]models.BodyTemplate, len(contents))

	for i, content := range contents {
		file := string(rune('a'+i)) + ".txt"
		templates[i] = models.BodyTemplate{Name: file, File: file}

		s.Require().NoError(afero.WriteFile(s.fs, "/data/bodies/"+file, []byte(content), 0600))
	}

	s.Require().NoError(s.store.Put(storage.KindFollowUpBodies, templates))
}

func (s *FollowUpTestSuite) requireCampaign(outcomes ...models.RecipientOutcome) {
	s.Require().NoError(s.registry.Create(context.TODO(), &models.Campaign{
		ID:        "c1",
		Name:      "Launch",
		StartedAt: sentAt,
		Outcomes:  outcomes,
	}))
}

func sent(recipient, sender, correlationID string) models.RecipientOutcome {
	return models.RecipientOutcome{
		Recipient:      recipient,
		SenderUsed:     sender,
		Subject:        "Hello",
		Status:         models.StatusSent,
		Timestamp:      sentAt,
		CorrelationID:  correlationID,
		FollowUpStatus: models.FollowUpNotSent,
	}
}

func (s *FollowUpTestSuite) expectSession() {
	s.opener.
		On("Open", mock.Anything, mock.MatchedBy(func(identity *models.SenderIdentity) bool {
			return identity.Address == "one@sender.com"
		})).
		Return(s.session, nil)
	s.session.On("Close").Return(nil)
}

func (s *FollowUpTestSuite) expectNoReply(correlationID string) {
	s.session.On("Search", mock.Anything, sentAt, correlationID).Return(nil, nil)
}

func (s *FollowUpTestSuite) expectSend(recipient, correlationID string, messages *[]delivery.Message) *mock.Call {
	return s.sender.
		On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(msg delivery.Message) bool {
			return msg.To == recipient
		})).
		Run(func(args mock.Arguments) {
			if messages != nil {
				*messages = append(*messages, args.Get(2).(delivery.Message))
			}
		}).
		Return(correlationID, nil).
		Once()
}

func (s *FollowUpTestSuite) run(ctx context.Context) *models.Campaign {
	run, err := s.engine.RunFollowUps(ctx, "c1")
	s.Require().NoError(err)
	s.Require().NoError(run.Wait())
	s.Assert().False(s.coordinator.Busy())

	c, err := s.registry.Get("c1")
	s.Require().NoError(err)

	return c
}

func (s *FollowUpTestSuite) lastProgress() Progress {
	s.Require().NotEmpty(s.progress)
	return s.progress[len(s.progress)-1]
}

func (s *FollowUpTestSuite) TestRepliedRecipientGetsNoFollowUp() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(
		sent("a@example.com", "one@sender.com", "<a@sender.com>"),
		sent("b@example.com", "one@sender.com", "<b@sender.com>"),
	)

	s.expectSession()
	s.session.On("Search", mock.Anything, sentAt, "<a@sender.com>").Return([]uint32{3, 7}, nil)
	s.session.On("MessageID", mock.Anything, uint32(7)).Return("<reply@example.com>", nil)
	s.expectNoReply("<b@sender.com>")

	var messages []delivery.Message
	s.expectSend("b@example.com", "<f1@sender.com>", &messages)

	c := s.run(context.TODO())

	s.Assert().Equal(models.FollowUpReplied, c.Outcomes[0].FollowUpStatus)
	s.Assert().Equal(0, c.Outcomes[0].FollowUpCount)

	s.Assert().Equal(models.FollowUpSent, c.Outcomes[1].FollowUpStatus)
	s.Assert().Equal(1, c.Outcomes[1].FollowUpCount)
	s.Assert().Equal("<f1@sender.com>", c.Outcomes[1].LastFollowUpCorrelationID)

	s.Require().Len(messages, 1)
	s.Assert().Equal("Re: Hello", messages[0].Subject)
	s.Assert().Equal("Just checking in.", messages[0].Content)
	s.Assert().Equal("<b@sender.com>", messages[0].InReplyTo)
	s.Assert().Equal([]string{"<b@sender.com>"}, messages[0].References)

	s.Assert().Len(s.sleeps, 1)
	s.Assert().Equal(Progress{CampaignID: "c1", Checked: 2, Sent: 1, Replied: 1, Total: 2}, s.lastProgress())
}

func (s *FollowUpTestSuite) TestSingleTemplateIsRepeated() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"))

	s.expectSession()
	s.expectNoReply("<a@sender.com>")

	var messages []delivery.Message
	s.expectSend("a@example.com", "<f1@sender.com>", &messages)
	s.expectSend("a@example.com", "<f2@sender.com>", &messages)
	s.expectSend("a@example.com", "<f3@sender.com>", &messages)

	var c *models.Campaign
	for i := 0; i < 3; i++ {
		c = s.run(context.TODO())
	}

	outcome := c.Outcomes[0]
	s.Assert().Equal(3, outcome.FollowUpCount)
	s.Assert().Equal(models.FollowUpSent, outcome.FollowUpStatus)
	s.Assert().Equal("<f3@sender.com>", outcome.LastFollowUpCorrelationID)

	s.Require().Len(messages, 3)
	for _, msg := range messages {
		s.Assert().Equal("Just checking in.", msg.Content)
	}

	s.Assert().Equal("<f2@sender.com>", messages[2].InReplyTo)
	s.Assert().Equal([]string{"<a@sender.com>", "<f2@sender.com>"}, messages[2].References)
}

func (s *FollowUpTestSuite) TestTemplateFollowsCount() {
	s.requireTemplates("First nudge.", "Second nudge.")

	second := sent("b@example.com", "one@sender.com", "<b@sender.com>")
	second.FollowUpCount = 1
	second.LastFollowUpCorrelationID = "<fb@sender.com>"

	later := sent("c@example.com", "one@sender.com", "<c@sender.com>")
	later.FollowUpCount = 5

	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"), second, later)

	s.expectSession()
	s.expectNoReply("<a@sender.com>")
	s.expectNoReply("<b@sender.com>")
	s.expectNoReply("<c@sender.com>")

	var messages []delivery.Message
	s.expectSend("a@example.com", "<fa2@sender.com>", &messages)
	s.expectSend("b@example.com", "<fb2@sender.com>", &messages)
	s.expectSend("c@example.com", "<fc2@sender.com>", &messages)

	c := s.run(context.TODO())

	s.Require().Len(messages, 3)
	s.Assert().Equal("First nudge.", messages[0].Content)
	s.Assert().Equal("Second nudge.", messages[1].Content)
	s.Assert().Equal("Second nudge.", messages[2].Content)
	s.Assert().Equal("<fb@sender.com>", messages[1].InReplyTo)

	s.Assert().Equal(6, c.Outcomes[2].FollowUpCount)
}

func (s *FollowUpTestSuite) TestIneligibleOutcomesAreIgnored() {
	s.requireTemplates("Just checking in.")

	failed := sent("failed@example.com", "one@sender.com", "")
	failed.Status = models.StatusFailed

	replied := sent("replied@example.com", "one@sender.com", "<r@sender.com>")
	replied.FollowUpStatus = models.FollowUpReplied

	lead := sent("lead@example.com", "one@sender.com", "<l@sender.com>")
	lead.NoFollowUp = true

	blockList := models.BlockList{
		"Blocked@Example.com": {Kind: models.KindLead, AddedAt: sentAt},
	}
	s.Require().NoError(s.store.PutBlockList(blockList))

	s.requireCampaign(
		failed,
		replied,
		lead,
		sent("blocked@example.com", "one@sender.com", "<b@sender.com>"),
		models.RecipientOutcome{Recipient: "skipped@example.com", Status: models.StatusSkipped},
	)

	c := s.run(context.TODO())

	s.Assert().Equal(models.FollowUpReplied, c.Outcomes[1].FollowUpStatus)
	s.Assert().Equal(0, c.Outcomes[3].FollowUpCount)
	s.opener.AssertNotCalled(s.T(), "Open", mock.Anything, mock.Anything)
	s.Assert().Empty(s.progress)
}

func (s *FollowUpTestSuite) TestIdentityWithoutMailboxIsSkipped() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(
		sent("a@example.com", "nobox@sender.com", "<a@sender.com>"),
		sent("b@example.com", "gone@sender.com", "<b@sender.com>"),
	)

	c := s.run(context.TODO())

	s.Assert().Equal(models.FollowUpNotSent, c.Outcomes[0].FollowUpStatus)
	s.Assert().Equal(models.FollowUpNotSent, c.Outcomes[1].FollowUpStatus)
	s.Assert().Equal(Progress{CampaignID: "c1", Checked: 2, Total: 2}, s.lastProgress())
	s.opener.AssertNotCalled(s.T(), "Open", mock.Anything, mock.Anything)
}

func (s *FollowUpTestSuite) TestMailboxErrorStillPersists() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"))
	s.Require().NoError(s.fs.Remove("/data/logs/Launch-c1.json"))

	s.opener.
		On("Open", mock.Anything, mock.Anything).
		Return(nil, &faults.TransportError{Op: "login", Host: "imap.sender.com:993", Err: context.DeadlineExceeded})

	s.run(context.TODO())

	exists, err := afero.Exists(s.fs, "/data/logs/Launch-c1.json")
	s.Require().NoError(err)
	s.Assert().True(exists)
	s.Assert().Equal(Progress{CampaignID: "c1", Checked: 1, Total: 1}, s.lastProgress())
}

func (s *FollowUpTestSuite) TestSendFailure() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"))

	s.expectSession()
	s.expectNoReply("<a@sender.com>")
	s.sender.
		On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return("", &faults.TransportError{Op: "send", Host: "smtp.sender.com:587", Err: context.DeadlineExceeded})

	c := s.run(context.TODO())

	s.Assert().Equal(models.FollowUpFailed, c.Outcomes[0].FollowUpStatus)
	s.Assert().Equal(0, c.Outcomes[0].FollowUpCount)
	s.Assert().Equal(Progress{CampaignID: "c1", Checked: 1, Failed: 1, Total: 1}, s.lastProgress())
}

func (s *FollowUpTestSuite) TestStopPersistsProgress() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(
		sent("a@example.com", "one@sender.com", "<a@sender.com>"),
		sent("b@example.com", "one@sender.com", "<b@sender.com>"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.expectSession()
	s.expectNoReply("<a@sender.com>")
	s.expectSend("a@example.com", "<f1@sender.com>", nil).
		Run(func(mock.Arguments) { cancel() })

	s.run(ctx)

	campaigns, err := s.logs.LoadAll(context.TODO())
	s.Require().NoError(err)
	s.Require().Len(campaigns, 1)

	outcomes := campaigns[0].Outcomes
	s.Assert().Equal(1, outcomes[0].FollowUpCount)
	s.Assert().Equal(0, outcomes[1].FollowUpCount)
	s.Assert().Equal(models.FollowUpNotSent, outcomes[1].FollowUpStatus)
}

func (s *FollowUpTestSuite) TestStopDuringSearchSendsNothing() {
	s.requireTemplates("Just checking in.", "Second nudge.")

	followedUp := sent("a@example.com", "one@sender.com", "<a@sender.com>")
	followedUp.RecordFollowUp("<f0@sender.com>")
	s.requireCampaign(followedUp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.expectSession()
	s.session.
		On("Search", mock.Anything, sentAt, "<a@sender.com>").
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, nil).
		Once()

	s.run(ctx)

	s.sender.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)

	campaigns, err := s.logs.LoadAll(context.TODO())
	s.Require().NoError(err)
	s.Require().Len(campaigns, 1)

	outcome := campaigns[0].Outcomes[0]
	s.Assert().Equal(models.FollowUpSent, outcome.FollowUpStatus)
	s.Assert().Equal(1, outcome.FollowUpCount)
	s.Assert().Equal("<f0@sender.com>", outcome.LastFollowUpCorrelationID)

	for _, p := range s.progress {
		s.Assert().Zero(p.Checked)
		s.Assert().Zero(p.Failed)
	}
}

func (s *FollowUpTestSuite) TestReplyRecordedDuringSendStaysReplied() {
	s.requireTemplates("Just checking in.")
	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"))

	s.expectSession()
	s.expectNoReply("<a@sender.com>")
	s.expectSend("a@example.com", "<f1@sender.com>", nil).
		Run(func(mock.Arguments) {
			changed, err := s.registry.MarkReplied(context.TODO(), "c1", "<a@sender.com>")
			s.Assert().NoError(err)
			s.Assert().True(changed)
		})

	c := s.run(context.TODO())

	outcome := c.Outcomes[0]
	s.Assert().Equal(models.FollowUpReplied, outcome.FollowUpStatus)
	s.Assert().Equal(1, outcome.FollowUpCount)
	s.Assert().Equal("<f1@sender.com>", outcome.LastFollowUpCorrelationID)

	campaigns, err := s.logs.LoadAll(context.TODO())
	s.Require().NoError(err)
	s.Require().Len(campaigns, 1)

	persisted := campaigns[0].Outcomes[0]
	s.Assert().Equal(models.FollowUpReplied, persisted.FollowUpStatus)
	s.Assert().Equal(1, persisted.FollowUpCount)
	s.Assert().Equal("<f1@sender.com>", persisted.LastFollowUpCorrelationID)

	progress := s.lastProgress()
	s.Assert().Equal(1, progress.Sent)
	s.Assert().Equal(1, progress.Checked)
	s.Assert().Zero(progress.Replied)
}

func (s *FollowUpTestSuite) TestBusy() {
	s.Require().True(s.coordinator.TryAcquire(campaign.SlotFollowUp))
	defer s.coordinator.Release(campaign.SlotFollowUp)

	_, err := s.engine.RunFollowUps(context.TODO(), "c1")
	s.Assert().ErrorIs(err, campaign.ErrBusy)
}

func (s *FollowUpTestSuite) TestMissingCampaign() {
	s.requireTemplates("Just checking in.")

	_, err := s.engine.RunFollowUps(context.TODO(), "missing")
	s.Assert().True(faults.IsDataConsistency(err))
	s.Assert().False(s.coordinator.Busy())
}

func (s *FollowUpTestSuite) TestNoTemplates() {
	s.requireCampaign(sent("a@example.com", "one@sender.com", "<a@sender.com>"))

	_, err := s.engine.RunFollowUps(context.TODO(), "c1")

	var configErr *faults.ConfigurationError
	s.Require().ErrorAs(err, &configErr)
	s.Assert().Equal([]string{"followupbodies"}, configErr.Missing)
	s.Assert().False(s.coordinator.Busy())

	s.sender.AssertNotCalled(s.T(), "Send", mock.Anything, mock.Anything, mock.Anything)
}
