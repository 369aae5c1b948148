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

package mailbox

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lukasdietrich/briefcast/internal/models"
)

// MockOpener is a testify mock of Opener.
type MockOpener struct {
	mock.Mock
}

func (m *MockOpener) Open(ctx context.Context, identity *models.SenderIdentity) (Session, error) {
	args := m.Called(ctx, identity)

	session, _ := args.Get(0).(Session)
	return session, args.Error(1)
}

// MockSession is a testify mock of Session.
type MockSession struct {
	mock.Mock
}

func (m *MockSession) Search(ctx context.Context, since time.Time, correlationID string) ([]uint32, error) {
	args := m.Called(ctx, since, correlationID)

	seqNums, _ := args.Get(0).([]uint32)
	return seqNums, args.Error(1)
}

func (m *MockSession) MessageID(ctx context.Context, seqNum uint32) (string, error) {
	args := m.Called(ctx, seqNum)
	return args.String(0), args.Error(1)
}

func (m *MockSession) Close() error {
	args := m.Called()
	return args.Error(0)
}
