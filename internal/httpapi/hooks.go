package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHook implements spec.md §6.1's POST /api/hooks/{hook_name}: decode
// the JSON body, run it through the dispatcher, return the (possibly
// policy-rewritten) payload. A hook the policy has no handler for passes
// the body through unchanged, matching dispatcher.invokeHook's default.
func (d *Deps) handleHook(c *gin.Context) {
	hookName := c.Param("hook_name")

	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}

	result, err := d.Dispatcher.Dispatch(c.Request.Context(), hookName, payload)
	if err != nil {
		d.Log.LogError(c.Request.Context(), err, "hook dispatch failed", "hook", hookName)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleRecentCallIDs implements GET /api/hooks/recent_call_ids?limit=N.
func (d *Deps) handleRecentCallIDs(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	ids, err := d.Store.RecentCallIDs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_ids": ids})
}

// handleConversationSnapshot implements GET /api/hooks/conversation?call_id=...:
// one call's stored conversation events and tool-call records, as read from
// the store. The events are returned as stored; they are not assembled into
// an events.CallSnapshot.
func (d *Deps) handleConversationSnapshot(c *gin.Context) {
	callID := c.Query("call_id")
	if callID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "call_id is required"})
		return
	}

	ctx := c.Request.Context()
	evs, err := d.Store.EventsForCall(ctx, callID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	toolCalls, err := d.Store.ToolCallsForCall(ctx, callID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_id":    callID,
		"events":     evs,
		"tool_calls": toolCalls,
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return def
	}
	return n
}

// abortRateLimited writes spec.md §4.7's 429 response and stops the chain.
func abortRateLimited(c *gin.Context, key string) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
	})
}
