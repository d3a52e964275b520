package testutils

import (
	"github.com/stretchr/testify/mock"
)

type MockMailService struct {
	mock.Mock
}

func (m *MockMailService) SendTemplate(templateName string, to []string, subject string, data map[string]any) error {
	args := m.Called(templateName, to, subject, data)
	return args.Error(0)
}

func (m *MockMailService) SendPlain(to []string, subject, body string) error {
	args := m.Called(to, subject, body)
	return args.Error(0)
}

// MockRevocationStore satisfies the lifecycle service's revocation dependency.
type MockRevocationStore struct {
	mock.Mock
}

func (m *MockRevocationStore) IsRevoked(tokenString string) (bool, error) {
	args := m.Called(tokenString)
	return args.Bool(0), args.Error(1)
}

func (m *MockRevocationStore) Revoke(tokenString, ownerUserID string) error {
	args := m.Called(tokenString, ownerUserID)
	return args.Error(0)
}
