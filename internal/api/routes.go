package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mixdao/mixd/internal/coins"
	"github.com/mixdao/mixd/internal/engine"
	"github.com/mixdao/mixd/internal/feemodel"
	"github.com/mixdao/mixd/internal/ledger"
	"github.com/mixdao/mixd/internal/node"
	"github.com/mixdao/mixd/internal/store"
	"github.com/mixdao/mixd/pkg/models"
)

// APIHandler adapts HTTP/JSON requests onto the Job Engine, enriching
// status reads with live RPC probes (spec.md §2's 10% slice).
type APIHandler struct {
	engine *engine.Engine
	store  *store.Store
	node   *node.Client
	ledger *ledger.Ledger
	wsHub  *Hub
}

// SetupRouter wires the mixing API the same way the teacher wires its
// forensics API: a CORS-enabled gin.Default() engine, a public group,
// and a protected group behind bearer auth + a per-IP rate limiter.
func SetupRouter(eng *engine.Engine, st *store.Store, n *node.Client, led *ledger.Ledger, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{engine: eng, store: st, node: n, ledger: led, wsHub: wsHub}

	pub := r.Group("/")
	{
		pub.GET("/api/v1/health", handler.handleHealth)
		pub.GET("/stream", wsHub.Subscribe)
		pub.GET("/mix/tiers", handler.handleTiers)
		pub.GET("/system/status", handler.handleSystemStatus)
	}

	auth := r.Group("/")
	auth.Use(AuthMiddleware())
	auth.Use(NewRateLimiter(30, 5).Middleware())
	{
		auth.POST("/mix/request", handler.handleMixRequest)
		auth.GET("/mix/status", handler.handleMixStatus)
		auth.POST("/mix/resume", handler.handleMixResume)
		auth.POST("/mix/quote", handler.handleMixQuote)
		auth.GET("/mix/history", handler.handleMixHistory)
	}

	return r
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "operational",
		"nodeConnected": h.node != nil,
		"ledgerConnected": h.ledger != nil,
	})
}

func (h *APIHandler) handleSystemStatus(c *gin.Context) {
	if h.node == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node not configured"})
		return
	}
	height, err := h.node.GetBlockCount()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	difficulty, _ := h.node.GetDifficulty()
	peers, _ := h.node.GetPeerInfo()

	c.JSON(http.StatusOK, gin.H{
		"blockHeight": height,
		"peerCount":   len(peers),
		"difficulty":  difficulty,
	})
}

func (h *APIHandler) handleTiers(c *gin.Context) {
	type tierResp struct {
		Name   string            `json:"name"`
		Shards int               `json:"shards"`
		Hops   int               `json:"hops"`
		Quote  *feemodel.Quote   `json:"quote,omitempty"`
	}
	out := make([]tierResp, 0, len(h.engine.Tiers))
	for _, t := range h.engine.Tiers {
		q, err := feemodel.ComputeTier(h.engine.FeeParams, coins.OneCoin, t)
		resp := tierResp{Name: t.Name, Shards: t.Shards, Hops: t.Hops}
		if err == nil {
			resp.Quote = &q
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

type mixRequestBody struct {
	Amount        string `json:"amount"`
	TargetAddress string `json:"targetAddress"`
	Shards        int    `json:"shards"`
	Hops          int    `json:"hops"`
}

func (h *APIHandler) handleMixRequest(c *gin.Context) {
	var req mixRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, err := coins.ParseDecimal(req.Amount)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal string"})
		return
	}
	if req.TargetAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "targetAddress is required"})
		return
	}

	shards, hops := req.Shards, req.Hops
	if shards <= 0 {
		shards, hops = 0, -1 // signal "use tier default" to CreateJob
	}

	job, err := h.engine.CreateJob(req.TargetAddress, amount, shards, hops)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobId":           job.JobID,
		"depositAddress":  job.DepositAddress,
		"amount":          job.Amount,
		"shards":          job.ShardCount,
		"hops":            job.HopCount,
		"feePercent":      job.FeePercent,
		"absFee":          job.AbsFee,
		"minerFee":        job.MinerFee,
		"txCount":         job.TxCount,
		"netAmount":       job.NetAmount,
		"depositRequired": job.DepositRequired,
		"minerFeeCap":     h.engine.FeeParams.MinerFeeCap,
		"extraServiceFee": job.ExtraServiceFee,
		"depositExtra":    h.engine.Cfg.DepositExtra,
		"feeSource":       "constant",
	})
}

func (h *APIHandler) handleMixStatus(c *gin.Context) {
	jobID := c.Query("jobId")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}
	job, ok := h.store.Get(jobID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	// Lazy completion promotion, per spec.md §6.2.
	if !job.IsTerminal() && len(job.ShardTxidsFinal) > 0 {
		complete := true
		for _, t := range job.ShardTxidsFinal {
			if t == "" {
				complete = false
				break
			}
		}
		if complete {
			h.engine.RecoverFinalShards(job)
		}
	}

	mixReady := false
	if job.MixAddress != "" {
		utxos, err := h.engine.Wallet.ListUnspentFor([]string{job.MixAddress}, 0, 9999999)
		mixReady = err == nil && len(utxos) > 0
	}

	shardReady := 0
	for _, t := range job.ShardTxidsFanout {
		if t != "" {
			shardReady++
		}
	}

	depositConfs := int64(0)
	if job.Txid1 != "" {
		if tx, err := h.engine.Wallet.GetTransaction(job.Txid1); err == nil {
			depositConfs = tx.Confirmations
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"job":              job,
		"mixUtxoReady":     mixReady,
		"shardReadyCount":  shardReady,
		"depositConfirmations": depositConfs,
	})
}

func (h *APIHandler) handleMixResume(c *gin.Context) {
	var req struct {
		JobID string `json:"jobId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}
	ok, err := h.engine.Resume(req.JobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

func (h *APIHandler) handleMixQuote(c *gin.Context) {
	var req struct {
		Amount string `json:"amount"`
		Shards int    `json:"shards"`
		Hops   int    `json:"hops"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	amount, err := coins.ParseDecimal(req.Amount)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a positive decimal string"})
		return
	}
	shards, hops := req.Shards, req.Hops
	if shards <= 0 {
		for _, t := range h.engine.Tiers {
			if t.Name == "standard" {
				shards, hops = t.Shards, t.Hops
			}
		}
	}

	quote, err := feemodel.Compute(h.engine.FeeParams, amount, shards, hops)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"quote":     quote,
		"feeSource": "constant",
	})
}

func (h *APIHandler) handleMixHistory(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history requires DATABASE_URL to be configured"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	entries, err := h.ledger.History(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": entries, "page": page, "limit": limit})
}

var _ = models.Job{} // keep models import even as endpoints evolve
