package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/wechatpay-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockBlobContainer implements interfaces.BlobContainer for testing
type MockBlobContainer struct {
	mock.Mock
	name string
}

func (m *MockBlobContainer) GetAllBytesOrNil(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobContainer) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBlobContainer) Name() string {
	return m.name
}

func (m *MockBlobContainer) LocationURI() string {
	return "mock:" + m.name
}

func TestMultiContainer_Available(t *testing.T) {
	tests := []struct {
		name       string
		containers []bool
		expected   bool
	}{
		{
			name:       "all containers available",
			containers: []bool{true, true, true},
			expected:   true,
		},
		{
			name:       "some containers available",
			containers: []bool{false, true, false},
			expected:   true,
		},
		{
			name:       "no containers available",
			containers: []bool{false, false, false},
			expected:   false,
		},
		{
			name:       "no containers",
			containers: []bool{},
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var containers []interfaces.BlobContainer
			for i, available := range tt.containers {
				mockContainer := &MockBlobContainer{name: fmt.Sprintf("mock-A%x", i)}
				mockContainer.On("Available", mock.Anything).Return(available).Maybe()
				containers = append(containers, mockContainer)
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiContainer(containers, logger)

			result := multi.Available(context.Background())
			assert.Equal(t, tt.expected, result)

			for _, container := range containers {
				container.(*MockBlobContainer).AssertExpectations(t)
			}
		})
	}
}

func TestMultiContainer_GetAllBytesOrNil(t *testing.T) {
	const blobName = "apiclient_cert.p12"
	testData := []byte("test data")
	testErr := errors.New("test error")

	tests := []struct {
		name          string
		setupMocks    func() []interfaces.BlobContainer
		expectedData  []byte
		expectedError bool
	}{
		{
			name: "first container has the blob",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("GetAllBytesOrNil", mock.Anything, blobName).Return(testData, nil)

				// Not consulted, the first one succeeds
				mock2 := &MockBlobContainer{name: "mock-B"}

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first container misses, second has the blob",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, nil)

				mock2 := &MockBlobContainer{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("GetAllBytesOrNil", mock.Anything, blobName).Return(testData, nil)

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "first container fails, second has the blob",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, testErr)

				mock2 := &MockBlobContainer{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("GetAllBytesOrNil", mock.Anything, blobName).Return(testData, nil)

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData: testData,
		},
		{
			name: "all containers report absent",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, nil)

				mock2 := &MockBlobContainer{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, nil)

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData: nil,
		},
		{
			name: "absent in one, failure in the other",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(true)
				mock1.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, nil)

				mock2 := &MockBlobContainer{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("GetAllBytesOrNil", mock.Anything, blobName).Return(nil, testErr)

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData:  nil,
			expectedError: true,
		},
		{
			name: "unavailable containers are skipped",
			setupMocks: func() []interfaces.BlobContainer {
				mock1 := &MockBlobContainer{name: "mock-A"}
				mock1.On("Available", mock.Anything).Return(false)

				mock2 := &MockBlobContainer{name: "mock-B"}
				mock2.On("Available", mock.Anything).Return(true)
				mock2.On("GetAllBytesOrNil", mock.Anything, blobName).Return(testData, nil)

				return []interfaces.BlobContainer{mock1, mock2}
			},
			expectedData: testData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			containers := tt.setupMocks()
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			multi := NewMultiContainer(containers, logger)

			data, err := multi.GetAllBytesOrNil(context.Background(), blobName)

			if tt.expectedError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectedData, data)

			for _, container := range containers {
				container.(*MockBlobContainer).AssertExpectations(t)
			}
		})
	}
}
