package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cell-tracker-go/internal/model"

	"github.com/sirupsen/logrus"
)

// UserInfo ответ справочника пользователей
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// HealthResponse ответ проверки здоровья справочника
type HealthResponse struct {
	Status string `json:"status"`
}

// DirectoryClient клиент внешнего справочника пользователей
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDirectoryClient создает новый клиент справочника пользователей
func NewDirectoryClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *DirectoryClient {
	return &DirectoryClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// GetUser запрашивает пользователя. Для неизвестного пользователя возвращает nil без ошибки.
func (c *DirectoryClient) GetUser(ctx context.Context, username string) (*UserInfo, error) {
	endpoint := fmt.Sprintf("%s/users/%s", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	c.logger.Debugf("Отправка GET запроса на %s", endpoint)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("справочник пользователей вернул ошибку: статус %d, тело: %s", resp.StatusCode, string(respBody))
	}

	var info UserInfo
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}
	return &info, nil
}

// ValidateUser существует ли пользователь в справочнике
func (c *DirectoryClient) ValidateUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	info, err := c.GetUser(ctx, username)
	if err != nil {
		c.logger.Errorf("Ошибка проверки пользователя %s: %v", username, err)
		return false, err
	}
	return info != nil, nil
}

// IsPowerUser имеет ли пользователь роль PU
func (c *DirectoryClient) IsPowerUser(ctx context.Context, username string) (bool, error) {
	if username == "" {
		return false, nil
	}
	info, err := c.GetUser(ctx, username)
	if err != nil {
		return false, err
	}
	return info != nil && info.Role == model.RolePower, nil
}

// CheckHealth проверяет состояние справочника
func (c *DirectoryClient) CheckHealth(ctx context.Context) (*HealthResponse, error) {
	c.logger.Debug("Проверка здоровья справочника пользователей")

	endpoint := fmt.Sprintf("%s/health", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ответа: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("справочник пользователей вернул ошибку: статус %d, тело: %s", resp.StatusCode, string(respBody))
	}

	var healthResponse HealthResponse
	if err := json.Unmarshal(respBody, &healthResponse); err != nil {
		return nil, fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}

	return &healthResponse, nil
}
