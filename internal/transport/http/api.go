package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"time-attack-quiz/internal/app"
	"time-attack-quiz/internal/domain"
)

// APIHandler serves the REST endpoints of lobbies, groups, answers and
// question sets.
type APIHandler struct {
	service *app.LobbyService
}

func NewAPIHandler(service *app.LobbyService) *APIHandler {
	return &APIHandler{service: service}
}

// Register mounts the endpoints under rg.
func (h *APIHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/quizzes", h.listQuizzes)
	rg.GET("/quizzes/:quizId", h.getQuiz)

	lobbies := rg.Group("/lobbies")
	{
		lobbies.POST("", h.createLobby)
		lobbies.GET("", h.listLobbies)
		lobbies.GET("/:id", h.getLobby)
		lobbies.POST("/:id/start", h.startLobby)
		lobbies.POST("/:id/finish", h.finishLobby)
		lobbies.POST("/:id/results", h.showResults)
		lobbies.GET("/:id/results", h.results)
		lobbies.GET("/:id/standings", h.standings)
		lobbies.POST("/:id/groups", h.joinGroup)
		lobbies.GET("/:id/groups", h.listGroups)
		lobbies.POST("/:id/groups/:groupId/answers", h.submitAnswer)
	}
}

type joinRequest struct {
	Name string `json:"name" binding:"required"`
}

type answerRequest struct {
	QuestionIndex  *int  `json:"questionIndex" binding:"required"`
	SelectedAnswer *int  `json:"selectedAnswer" binding:"required"`
	AnswerTimeMs   int64 `json:"answerTimeMs"`
}

func (h *APIHandler) listQuizzes(c *gin.Context) {
	ids, err := h.service.ListQuizzes(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": ids})
}

func (h *APIHandler) getQuiz(c *gin.Context) {
	quiz, err := h.service.GetQuiz(c.Request.Context(), c.Param("quizId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

func (h *APIHandler) createLobby(c *gin.Context) {
	var settings app.LobbySettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	lobby, err := h.service.CreateLobby(c.Request.Context(), settings)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lobby)
}

func (h *APIHandler) listLobbies(c *gin.Context) {
	lobbies, err := h.service.ListLobbies(c.Request.Context(), domain.LobbyStatus(c.Query("status")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lobbies": lobbies})
}

func (h *APIHandler) getLobby(c *gin.Context) {
	lobby, err := h.service.GetLobby(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lobby)
}

func (h *APIHandler) startLobby(c *gin.Context) {
	h.transition(c, h.service.StartLobby)
}

func (h *APIHandler) finishLobby(c *gin.Context) {
	h.transition(c, h.service.FinishLobby)
}

func (h *APIHandler) showResults(c *gin.Context) {
	h.transition(c, h.service.ShowResults)
}

func (h *APIHandler) transition(c *gin.Context, fn func(ctx context.Context, lobbyID string) (domain.Lobby, error)) {
	lobby, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, lobby)
}

func (h *APIHandler) results(c *gin.Context) {
	results, err := h.service.Results(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *APIHandler) standings(c *gin.Context) {
	standings, err := h.service.Standings(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, standings)
}

func (h *APIHandler) joinGroup(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	group, err := h.service.JoinGroup(c.Request.Context(), c.Param("id"), req.Name)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *APIHandler) listGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

func (h *APIHandler) submitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.SubmitAnswer(c.Request.Context(), c.Param("id"), c.Param("groupId"), domain.AnswerSubmission{
		QuestionIndex:  *req.QuestionIndex,
		SelectedAnswer: *req.SelectedAnswer,
		AnswerTimeMs:   req.AnswerTimeMs,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
