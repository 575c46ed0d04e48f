package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/auth"
	"stocksim/internal/debate"
	"stocksim/internal/model"
	"stocksim/internal/oracle"
	"stocksim/internal/quiz"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
	"stocksim/internal/watchlist"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server rather than the
// network.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type Me struct {
	Account model.Account `json:"account"`
	IsAdmin bool          `json:"is_admin"`
	Email   string        `json:"email"`
}

type Seasons struct {
	Current  model.Season          `json:"current"`
	Archives []model.SeasonArchive `json:"archives"`
}

type Debate struct {
	ID            string             `json:"id"`
	Topic         string             `json:"topic"`
	OVotes        int                `json:"o_votes"`
	XVotes        int                `json:"x_votes"`
	Status        model.DebateStatus `json:"status"`
	CorrectAnswer model.Choice       `json:"correct_answer,omitempty"`
	MyVote        model.Choice       `json:"my_vote,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func (c *Client) Signup(ctx context.Context, email, password, nickname, group string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"nickname": nickname,
		"group":    group,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{"refresh_token": refreshToken}, &out)
	return out, err
}

func (c *Client) Activate(ctx context.Context, token, nickname, group string) (model.Account, error) {
	var out model.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/account/activate", token, map[string]any{
		"nickname": nickname,
		"group":    group,
	}, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context, token string) (Me, error) {
	var out Me
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", token, nil, &out)
	return out, err
}

func (c *Client) Quests(ctx context.Context, token string) (model.QuestProgress, error) {
	var out model.QuestProgress
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/quests", token, nil, &out)
	return out, err
}

func (c *Client) Quote(ctx context.Context, token, symbol string) (oracle.Quote, error) {
	var out oracle.Quote
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/quotes/"+url.PathEscape(symbol), token, nil, &out)
	return out, err
}

// Portfolio values the running season, or a past one when seasonID > 0.
func (c *Client) Portfolio(ctx context.Context, token string, seasonID int64) (valuation.Valuation, error) {
	path := "/v1/portfolio"
	if seasonID > 0 {
		path = fmt.Sprintf("/v1/portfolio/seasons/%d", seasonID)
	}
	var out valuation.Valuation
	err := c.jsonRequest(ctx, http.MethodGet, path, token, nil, &out)
	return out, err
}

func (c *Client) PortfolioHistory(ctx context.Context, token string, seasonID int64) ([]model.PortfolioPoint, error) {
	var out struct {
		Points []model.PortfolioPoint `json:"points"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/portfolio/history"+seasonQuery(seasonID, ""), token, nil, &out)
	return out.Points, err
}

func (c *Client) Watchlist(ctx context.Context, token string) (watchlist.Watchlist, error) {
	var out watchlist.Watchlist
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/watchlist", token, nil, &out)
	return out, err
}

func (c *Client) AddFavorite(ctx context.Context, token, symbol, name string) (model.Favorite, error) {
	var out model.Favorite
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/watchlist", token, map[string]string{"symbol": symbol, "name": name}, &out)
	return out, err
}

func (c *Client) RemoveFavorite(ctx context.Context, token, symbol string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/watchlist/"+url.PathEscape(symbol), token, nil, nil)
}

func (c *Client) MarketOrder(ctx context.Context, token string, in trade.MarketOrderInput) (trade.TradeResult, error) {
	var out trade.TradeResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders/market", token, in, &out)
	return out, err
}

func (c *Client) PlaceLimitOrder(ctx context.Context, token string, in trade.LimitOrderInput) (model.LimitOrder, error) {
	var out model.LimitOrder
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/orders/limit", token, in, &out)
	return out, err
}

func (c *Client) OpenOrders(ctx context.Context, token string) ([]model.LimitOrder, error) {
	var out struct {
		Orders []model.LimitOrder `json:"orders"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/orders/limit", token, nil, &out)
	return out.Orders, err
}

func (c *Client) CancelOrder(ctx context.Context, token, orderID string) (model.LimitOrder, error) {
	var out model.LimitOrder
	err := c.jsonRequest(ctx, http.MethodDelete, "/v1/orders/limit/"+url.PathEscape(orderID), token, nil, &out)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, token string, seasonID int64, allTime bool) ([]model.Transaction, error) {
	scope := ""
	if allTime {
		scope = string(model.ScopeAllTime)
	}
	var out struct {
		Transactions []model.Transaction `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/transactions"+seasonQuery(seasonID, scope), token, nil, &out)
	return out.Transactions, err
}

func (c *Client) Rankings(ctx context.Context, token string) (model.RankingSnapshot, error) {
	var out model.RankingSnapshot
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rankings", token, nil, &out)
	return out, err
}

func (c *Client) Seasons(ctx context.Context, token string) (Seasons, error) {
	var out Seasons
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/seasons", token, nil, &out)
	return out, err
}

func (c *Client) HallOfFame(ctx context.Context, token string, seasonID int64) (model.SeasonArchive, error) {
	var out model.SeasonArchive
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/hall-of-fame/%d", seasonID), token, nil, &out)
	return out, err
}

func (c *Client) Debates(ctx context.Context, token string) ([]Debate, error) {
	var out struct {
		Debates []Debate `json:"debates"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/debates", token, nil, &out)
	return out.Debates, err
}

func (c *Client) CreateDebate(ctx context.Context, token, topic string) (Debate, error) {
	var out Debate
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/debates", token, map[string]any{"topic": topic}, &out)
	return out, err
}

func (c *Client) Vote(ctx context.Context, token, debateID string, choice model.Choice) (Debate, error) {
	var out Debate
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/debates/"+url.PathEscape(debateID)+"/vote", token, map[string]any{"choice": choice}, &out)
	return out, err
}

func (c *Client) CloseDebate(ctx context.Context, token, debateID string, correct model.Choice) (debate.CloseResult, error) {
	var out debate.CloseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/debates/"+url.PathEscape(debateID)+"/close", token, map[string]any{"correct_answer": correct}, &out)
	return out, err
}

func (c *Client) DeleteDebate(ctx context.Context, token, debateID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/debates/"+url.PathEscape(debateID), token, nil, nil)
}

func (c *Client) Quizzes(ctx context.Context, token string) ([]model.Quiz, error) {
	var out struct {
		Quizzes []model.Quiz `json:"quizzes"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/quiz", token, nil, &out)
	return out.Quizzes, err
}

func (c *Client) QuizEligibility(ctx context.Context, token string) (quiz.Eligibility, error) {
	var out quiz.Eligibility
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/quiz/eligibility", token, nil, &out)
	return out, err
}

func (c *Client) SubmitQuiz(ctx context.Context, token, quizID string, answer int) (quiz.Result, error) {
	var out quiz.Result
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/quiz/"+url.PathEscape(quizID)+"/submit", token, map[string]any{"answer_index": answer}, &out)
	return out, err
}

func (c *Client) CreateQuiz(ctx context.Context, token, question string, choices []string, answer int) (model.Quiz, error) {
	var out model.Quiz
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/quiz", token, map[string]any{
		"question":     question,
		"choices":      choices,
		"answer_index": answer,
	}, &out)
	return out, err
}

func (c *Client) DeleteQuiz(ctx context.Context, token, quizID string) error {
	return c.jsonRequest(ctx, http.MethodDelete, "/v1/quiz/"+url.PathEscape(quizID), token, nil, nil)
}

func (c *Client) EndSeason(ctx context.Context, token string) (int64, error) {
	var out struct {
		ClosedSeasonID int64 `json:"closed_season_id"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/seasons/end", token, nil, &out)
	return out.ClosedSeasonID, err
}

func (c *Client) DeleteSeason(ctx context.Context, token string, seasonID int64) error {
	return c.jsonRequest(ctx, http.MethodDelete, fmt.Sprintf("/v1/admin/seasons/%d", seasonID), token, nil, nil)
}

func seasonQuery(seasonID int64, scope string) string {
	q := url.Values{}
	if seasonID > 0 {
		q.Set("season", strconv.FormatInt(seasonID, 10))
	}
	if scope != "" {
		q.Set("scope", scope)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ParseDecimal parses a user-typed number, tolerating thousands separators.
func ParseDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%q is not a number", s)
	}
	return d, nil
}
