package handlers

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cuetable/backend/internal/board"
	"github.com/cuetable/backend/internal/middleware"
	"github.com/cuetable/backend/internal/store"
	"github.com/gin-gonic/gin"
)

// BallStore is the persistence the content routes need.
type BallStore interface {
	CreateArticle(ctx context.Context, content, userID string, pos board.Vec2, radius float64) (board.Ball, error)
	CreateComment(ctx context.Context, in board.NewComment) (board.Ball, error)
	Thread(ctx context.Context, articleID string) (board.Ball, []board.Ball, error)
	SoftDelete(ctx context.Context, id, userID string) ([]string, error)
}

// Voter records article votes.
type Voter interface {
	Vote(ctx context.Context, articleID, userID string, up bool) (store.VoteSummary, error)
}

// BoardView is the part of the simulation the content routes touch.
type BoardView interface {
	Table() *board.Table
	State() board.BoardState
	AddBall(ball board.Ball)
	RemoveBall(id string)
}

var errEmptyContent = errors.New("content is required")
var errContentTooLong = errors.New("content must be at most 500 characters")

// GetBoard returns the latest published board state.
func GetBoard(sim BoardView) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := sim.State()
		c.JSON(http.StatusOK, gin.H{
			"tick":        st.Tick,
			"locked":      st.Locked,
			"turn_holder": st.TurnHolder,
			"balls":       st.Balls,
			"aims":        st.Aims,
			"players":     st.Players,
			"table":       sim.Table(),
		})
	}
}

// CreateArticle places a new article on a free spot of the table.
func CreateArticle(st BallStore, sim BoardView) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Content string `json:"content"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content required"})
			return
		}
		content, err := validContent(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		pos := board.PlaceBall(rng, sim.Table(), board.OccupiedFrom(sim.State().Balls), board.DefaultArticleRadius)

		ball, err := st.CreateArticle(c.Request.Context(), content, middleware.PlayerID(c), pos, board.DefaultArticleRadius)
		if err != nil {
			log.Printf("[API] create article failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		sim.AddBall(ball)
		c.JSON(http.StatusCreated, ball)
	}
}

// CreateComment adds a reply to an article, or to one of its comments when
// parent_path is set. The store assigns the path.
func CreateComment(st BallStore, sim BoardView) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			ArticleID  string `json:"article_id"`
			ParentPath string `json:"parent_path"`
			Content    string `json:"content"`
		}
		if err := c.BindJSON(&req); err != nil || req.ArticleID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "article_id and content required"})
			return
		}
		content, err := validContent(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		article, comments, err := st.Thread(ctx, req.ArticleID)
		if err != nil {
			writeStoreError(c, err)
			return
		}

		parentPos, parentRadius := article.Position, article.Radius
		for _, rb := range sim.State().Balls {
			if rb.Ball.ID == article.ID {
				parentPos, parentRadius = rb.Position, rb.Radius
				break
			}
		}
		pos := board.OrbitPosition(sim.Table(), parentPos, parentRadius, board.DefaultCommentRadius, len(comments))

		ball, err := st.CreateComment(ctx, board.NewComment{
			Content:    content,
			ArticleID:  article.ID,
			ParentPath: strings.TrimSpace(req.ParentPath),
			Position:   pos,
			Radius:     board.DefaultCommentRadius,
			OwnerID:    middleware.PlayerID(c),
		})
		if err != nil {
			writeStoreError(c, err)
			return
		}

		sim.AddBall(ball)
		c.JSON(http.StatusCreated, ball)
	}
}

// GetThread returns an article with its live comments in path order.
func GetThread(st BallStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		article, comments, err := st.Thread(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"article": article, "comments": comments})
	}
}

// DeleteBall soft-deletes the caller's article or comment with everything
// under it and takes the removed balls off the table.
func DeleteBall(st BallStore, sim BoardView) gin.HandlerFunc {
	return func(c *gin.Context) {
		removed, err := st.SoftDelete(c.Request.Context(), c.Param("id"), middleware.PlayerID(c))
		if err != nil {
			writeStoreError(c, err)
			return
		}
		for _, id := range removed {
			sim.RemoveBall(id)
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	}
}

// VoteArticle sets the caller's vote on an article. The value defaults to UP.
func VoteArticle(st Voter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Value string `json:"value"`
		}
		if c.Request.ContentLength != 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vote"})
				return
			}
		}

		value := strings.ToUpper(strings.TrimSpace(req.Value))
		if value == "" {
			value = "UP"
		}
		if value != "UP" && value != "DOWN" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "value must be UP or DOWN"})
			return
		}

		sum, err := st.Vote(c.Request.Context(), c.Param("id"), middleware.PlayerID(c), value == "UP")
		if err != nil {
			writeStoreError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"votes": sum, "value": value})
	}
}

func validContent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errEmptyContent
	}
	if utf8.RuneCountInString(s) > board.MaxContentLength {
		return "", errContentTooLong
	}
	return s, nil
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrParentNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "parent comment not found"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not your post"})
	default:
		log.Printf("[API] store error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
