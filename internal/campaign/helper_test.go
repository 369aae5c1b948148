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

package campaign

import (
	"context"
	"math/rand"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/lukasdietrich/briefcast/internal/crypto"
	"github.com/lukasdietrich/briefcast/internal/delivery"
	"github.com/lukasdietrich/briefcast/internal/faults"
	"github.com/lukasdietrich/briefcast/internal/models"
	"github.com/lukasdietrich/briefcast/internal/storage"
)

var testClock = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// baseCampaignTestSuite wires the engine to in-memory storage and mocked transports.
type baseCampaignTestSuite struct {
	suite.Suite

	fs          afero.Fs
	store       *storage.Store
	logs        *storage.CampaignLogs
	registry    *Registry
	coordinator *Coordinator
	sender      *delivery.MockSender
	idGen       *crypto.MockIDGenerator
	engine      *Engine
	sleeps      []time.Duration
}

func (s *baseCampaignTestSuite) SetupTest() {
	s.fs = afero.NewMemMapFs()

	store, err := storage.NewStore(s.fs, storage.StoreOptions{Foldername: "/data"})
	s.Require().NoError(err)

	bodies, err := storage.NewBodies(s.fs, storage.BodiesOptions{Foldername: "/data/bodies"})
	s.Require().NoError(err)

	logs, err := storage.NewCampaignLogs(s.fs, storage.CampaignLogsOptions{Foldername: "/data/logs"})
	s.Require().NoError(err)

	s.store = store
	s.logs = logs
	s.registry = NewRegistry(logs)
	s.coordinator = NewCoordinator()
	s.sender = new(delivery.MockSender)
	s.idGen = new(crypto.MockIDGenerator)
	s.sleeps = nil

	s.engine = NewEngine(store, bodies, s.sender, s.registry, s.coordinator, s.idGen, EngineOptions{})
	s.engine.random = rand.New(rand.NewSource(1))
	s.engine.now = func() time.Time { return testClock }
	s.engine.sleep = func(ctx context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return ctx.Err()
	}
}

func (s *baseCampaignTestSuite) TearDownTest() {
	mock.AssertExpectationsForObjects(s.T(), s.idGen)
}

func (s *baseCampaignTestSuite) requireInputs() {
	s.Require().NoError(s.store.Put(storage.KindIdentities, []models.SenderIdentity{
		{Address: "one@sender.com", TransportHost: "smtp.sender.com", MailboxHost: "imap.sender.com"},
		{Address: "two@sender.com", TransportHost: "smtp.sender.com", MailboxHost: "imap.sender.com"},
	}))
	s.Require().NoError(s.store.Put(storage.KindSubjects, []string{"Hello", "Hi there"}))
	s.Require().NoError(s.store.Put(storage.KindBodies, []models.BodyTemplate{
		{Name: "intro", File: "intro.txt"},
	}))
	s.Require().NoError(afero.WriteFile(s.fs, "/data/bodies/intro.txt", []byte("Nice to meet you."), 0600))
}

func (s *baseCampaignTestSuite) requireBlocked(address string, kind models.BlockListKind) {
	blockList, err := s.store.BlockList()
	s.Require().NoError(err)

	blockList[address] = models.BlockListEntry{Kind: kind, AddedAt: testClock}
	s.Require().NoError(s.store.PutBlockList(blockList))
}

func (s *baseCampaignTestSuite) expectSend(recipient, correlationID string) *mock.Call {
	return s.sender.
		On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(msg delivery.Message) bool {
			return msg.To == recipient
		})).
		Return(correlationID, nil)
}

func (s *baseCampaignTestSuite) expectSendFailure(recipient string) *mock.Call {
	return s.sender.
		On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(msg delivery.Message) bool {
			return msg.To == recipient
		})).
		Return("", &faults.TransportError{Op: "send", Host: "smtp.sender.com:587", Err: context.DeadlineExceeded})
}

func (s *baseCampaignTestSuite) requireCampaign(campaign models.Campaign) {
	s.Require().NoError(s.registry.Create(context.TODO(), &campaign))
}

func (s *baseCampaignTestSuite) outcomeOf(campaign *models.Campaign, recipient string) models.RecipientOutcome {
	for _, outcome := range campaign.Outcomes {
		if outcome.Recipient == recipient {
			return outcome
		}
	}

	s.FailNow("no outcome for " + recipient)
	return models.RecipientOutcome{}
}

// failingLogs fails the n-th save.
type failingLogs struct {
	Logs

	saves  int
	failOn int
}

func (f *failingLogs) Save(ctx context.Context, campaign *models.Campaign) error {
	f.saves++

	if f.saves == f.failOn {
		return &faults.PersistenceError{Document: campaign.File, Err: afero.ErrFileClosed}
	}

	return f.Logs.Save(ctx, campaign)
}
