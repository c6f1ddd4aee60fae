package metrics

// Pre-defined metrics for the canonchain selection engine. All metrics live
// in DefaultRegistry so they are globally accessible without passing a
// registry around.

var (
	// ---- Chain metrics ----

	// ChainHeadHeight tracks the height of the current canonical head.
	ChainHeadHeight = DefaultRegistry.Gauge("chain.head_height")
	// ChainLeaves tracks the number of leaf blocks in the block tree.
	ChainLeaves = DefaultRegistry.Gauge("chain.leaves")
	// BlocksAccepted counts blocks accepted into the block tree.
	BlocksAccepted = DefaultRegistry.Counter("chain.blocks_accepted")
	// BlocksRejected counts blocks rejected before insertion.
	BlocksRejected = DefaultRegistry.Counter("chain.blocks_rejected")
	// BlockProcessTime records block processing duration in milliseconds.
	BlockProcessTime = DefaultRegistry.Histogram("chain.block_process_ms")

	// ---- Reorg metrics ----

	// ReorgsExecuted counts completed chain reorganisations.
	ReorgsExecuted = DefaultRegistry.Counter("reorg.executed")
	// ReorgsAborted counts reorganisations aborted before completion.
	ReorgsAborted = DefaultRegistry.Counter("reorg.aborted")
	// ReorgDepth records the number of blocks reverted per reorg.
	ReorgDepth = DefaultRegistry.Histogram("reorg.depth")
	// ReorgTime records reorg execution duration in milliseconds.
	ReorgTime = DefaultRegistry.Histogram("reorg.duration_ms")

	// ---- Attack detection metrics ----

	// EquivocationsDetected counts equivocation evidence records produced.
	EquivocationsDetected = DefaultRegistry.Counter("attack.equivocations")
	// LongRangeRejected counts blocks rejected by the long-range rule.
	LongRangeRejected = DefaultRegistry.Counter("attack.long_range_rejected")
	// SelfishFlagged counts blocks flagged by the withheld-release heuristic.
	SelfishFlagged = DefaultRegistry.Counter("attack.selfish_flagged")
	// SuspectsTracked tracks the number of proposers currently marked suspect.
	SuspectsTracked = DefaultRegistry.Gauge("attack.suspects")

	// ---- Signature metrics ----

	// SignaturesVerified counts successful block signature verifications.
	SignaturesVerified = DefaultRegistry.Counter("crypto.signatures_verified")
	// SignaturesFailed counts failed block signature verifications.
	SignaturesFailed = DefaultRegistry.Counter("crypto.signatures_failed")
)
