package domainerr

// Live collaboration.
var (
	SessionNotFound     = New(KindNotFound, "SESSION_NOT_FOUND", "session not found")
	PermissionDenied    = New(KindPermissionDenied, "PERMISSION_DENIED", "permission denied")
	TransformDivergence = New(KindTransformDivergence, "TRANSFORM_DIVERGENCE", "transform did not converge")
	Busy                = New(KindBusy, "BUSY", "document is busy, retry")
	InvalidOperation    = New(KindValidation, "INVALID_OPERATION", "invalid operation")
	CausalGap           = New(KindValidation, "CAUSAL_GAP", "operation depends on operations the server has not seen")
)

// Branch and version graph.
var (
	InvalidBranchName      = New(KindValidation, "INVALID_BRANCH_NAME", "branch name must match [A-Za-z0-9-_/]{1,255}")
	DuplicateBranchName    = New(KindConflictState, "DUPLICATE_BRANCH_NAME", "branch name already exists")
	MaxBranchDepthExceeded = New(KindValidation, "MAX_BRANCH_DEPTH_EXCEEDED", "maximum branch depth exceeded")
	ProtectedBranch        = New(KindConflictState, "PROTECTED_BRANCH", "branch is protected")
	BranchInUse            = New(KindConflictState, "BRANCH_IN_USE", "branch has open merge requests")
	BranchNotFound         = New(KindNotFound, "BRANCH_NOT_FOUND", "branch not found")
	BranchAbandoned        = New(KindConflictState, "BRANCH_ABANDONED", "branch is abandoned")
	VersionNotFound        = New(KindNotFound, "VERSION_NOT_FOUND", "version not found")
	InvalidInput           = New(KindValidation, "INVALID_INPUT", "invalid input")
)

// Merges and conflicts.
var (
	MergeRequestNotFound   = New(KindNotFound, "MERGE_REQUEST_NOT_FOUND", "merge request not found")
	DuplicateMergeRequest  = New(KindConflictState, "DUPLICATE_MERGE_REQUEST", "an open merge request already exists for these branches")
	UnresolvedConflicts    = New(KindConflictState, "UNRESOLVED_CONFLICTS", "merge request has unresolved conflicts")
	InsufficientApprovals  = New(KindConflictState, "INSUFFICIENT_APPROVALS", "merge request needs more approvals")
	FastForwardNotPossible = New(KindConflictState, "FAST_FORWARD_NOT_POSSIBLE", "target branch has diverged")
	MergeRequestClosed     = New(KindConflictState, "MERGE_REQUEST_CLOSED", "merge request is closed or merged")
	ConflictNotFound       = New(KindNotFound, "CONFLICT_NOT_FOUND", "conflict not found")
	AlreadyResolved        = New(KindConflictState, "ALREADY_RESOLVED", "conflict is already resolved")
	InvalidResolution      = New(KindValidation, "INVALID_RESOLUTION", "invalid resolution")
	UnknownStrategy        = New(KindValidation, "UNKNOWN_STRATEGY", "unknown merge strategy")
)
