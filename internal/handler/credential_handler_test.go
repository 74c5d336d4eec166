package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/agrocert/agrocert-api/internal/dto"
	"github.com/agrocert/agrocert-api/internal/models"
	appErrors "github.com/agrocert/agrocert-api/pkg/errors"
)

type credentialServiceMock struct {
	credential *models.Credential
	requestID  string
}

func (m *credentialServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Credential, error) {
	if m.credential == nil {
		return nil, appErrors.ErrNotFound
	}
	return m.credential, nil
}

func (m *credentialServiceMock) GetByRequestID(ctx context.Context, requestID string, actor *models.JWTClaims) (*models.Credential, error) {
	m.requestID = requestID
	if m.credential == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no credential issued for this request")
	}
	return m.credential, nil
}

func (m *credentialServiceMock) List(ctx context.Context, query dto.CredentialQuery, actor *models.JWTClaims) ([]models.Credential, error) {
	return nil, nil
}

func (m *credentialServiceMock) Revoke(ctx context.Context, id string, req dto.RevokeCredentialRequest, actor *models.JWTClaims) (*models.Credential, error) {
	return m.credential, nil
}

func TestCredentialHandlerGetByRequest(t *testing.T) {
	mock := &credentialServiceMock{credential: &models.Credential{ID: "cred-1", RequestID: "req-1"}}
	handler := NewCredentialHandler(mock)

	c, w := testContext(t, http.MethodGet, "/requests/req-1/credential", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.GetByRequest(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "req-1", mock.requestID)
}

func TestCredentialHandlerGetByRequestNotIssued(t *testing.T) {
	handler := NewCredentialHandler(&credentialServiceMock{})

	c, w := testContext(t, http.MethodGet, "/requests/req-1/credential", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.GetByRequest(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}
