package constants

// 推广用户状态常量
const (
	AffiliateStatusActive     = "active"
	AffiliateStatusSuspended  = "suspended"
	AffiliateStatusTerminated = "terminated"
)

// 推广转化状态常量
const (
	ReferralStatusPending  = "pending"
	ReferralStatusApproved = "approved"
	ReferralStatusRejected = "rejected"
)

// 推广转化类型常量
const (
	ConversionTypeSignup       = "signup"
	ConversionTypePurchase     = "purchase"
	ConversionTypeSubscription = "subscription"
)

// 提现状态常量
const (
	WithdrawalStatusRequested  = "requested"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
)

// 排行榜统计窗口常量
const (
	LeaderboardTimeFrameAll     = "all"
	LeaderboardTimeFrameMonth   = "month"
	LeaderboardTimeFrameQuarter = "quarter"
)

// 队列与任务常量
const (
	QueueDefault         = "default"
	QueueCritical        = "critical"
	TaskWithdrawalNotify = "affiliate:withdrawal_notify"
)

// 设置键常量
const (
	SettingKeyLastLeaderboardUpdate = "last_leaderboard_update"
)
