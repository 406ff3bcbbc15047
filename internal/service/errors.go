package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	storageRetryMaxAttempts = 8
	storageRetryBaseDelay   = 15 * time.Millisecond
	storageRetryMaxDelay    = 200 * time.Millisecond
)

// 错误分类
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTransientStorage  = errors.New("transient storage error")
	ErrNotification      = errors.New("notification failed")
)

// 推广用户相关错误
var (
	ErrAffiliateCodeRequired  = fmt.Errorf("%w: affiliate_code is required", ErrValidation)
	ErrAffiliateCodeInvalid   = fmt.Errorf("%w: affiliate_code is invalid", ErrValidation)
	ErrAffiliateCodeTaken     = fmt.Errorf("%w: affiliate_code already exists", ErrValidation)
	ErrAffiliateNotFound      = fmt.Errorf("%w: affiliate not found", ErrNotFound)
	ErrAffiliateStatusInvalid = fmt.Errorf("%w: affiliate status is invalid", ErrValidation)
	ErrCommissionRateInvalid  = fmt.Errorf("%w: commission_rate must be between 0 and 100", ErrValidation)
	ErrAffiliateEmailInvalid  = fmt.Errorf("%w: email is invalid", ErrValidation)
	ErrAffiliateCodeExhausted = errors.New("affiliate code generation exhausted")
)

// 访问与转化相关错误
var (
	ErrConversionTypeRequired = fmt.Errorf("%w: conversion_type is required", ErrValidation)
	ErrConversionTypeInvalid  = fmt.Errorf("%w: conversion_type must be signup, purchase or subscription", ErrValidation)
	ErrOrderAmountInvalid     = fmt.Errorf("%w: order_amount must not be negative", ErrValidation)
	ErrReferralIDRequired     = fmt.Errorf("%w: referral_id is required", ErrValidation)
	ErrReferralDecision       = fmt.Errorf("%w: status must be approved or rejected", ErrValidation)
	ErrReferralNotFound       = fmt.Errorf("%w: referral not found", ErrNotFound)
	ErrReferralAlreadyDecided = fmt.Errorf("%w: referral already decided", ErrInvalidTransition)
	ErrReferralStatusInvalid  = fmt.Errorf("%w: referral status is invalid", ErrValidation)
)

// 提现相关错误
var (
	ErrWithdrawalIDRequired    = fmt.Errorf("%w: withdrawal_id is required", ErrValidation)
	ErrWithdrawalStatusInvalid = fmt.Errorf("%w: status must be processing, completed or failed", ErrValidation)
	ErrWithdrawalAmountInvalid = fmt.Errorf("%w: amount must be greater than 0", ErrValidation)
	ErrWithdrawalNotFound      = fmt.Errorf("%w: withdrawal not found", ErrNotFound)
	ErrWithdrawalTerminal      = fmt.Errorf("%w: withdrawal already settled", ErrInvalidTransition)
	ErrWithdrawalTransition    = fmt.Errorf("%w: withdrawal status cannot move backwards", ErrInvalidTransition)
	ErrInsufficientBalance     = fmt.Errorf("%w: withdrawal amount exceeds available earnings", ErrValidation)
	ErrBalanceContention       = fmt.Errorf("%w: earnings balance changed concurrently", ErrTransientStorage)
)

// 排行榜相关错误
var (
	ErrTimeFrameInvalid = fmt.Errorf("%w: timeFrame must be all, month or quarter", ErrValidation)
)

// 邮件相关错误
var (
	ErrEmailServiceDisabled      = fmt.Errorf("%w: email service disabled", ErrNotification)
	ErrEmailServiceNotConfigured = fmt.Errorf("%w: email service not configured", ErrNotification)
	ErrInvalidEmail              = fmt.Errorf("%w: invalid receiver email", ErrNotification)
	ErrEmailRecipientRejected    = fmt.Errorf("%w: recipient rejected", ErrNotification)
)

// wrapStorageError 将仓储错误归类，超时与锁冲突视为可重试
func wrapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTransientStorage) {
		return err
	}
	if isTransientStorageError(err) {
		return fmt.Errorf("%w: %v", ErrTransientStorage, err)
	}
	return err
}

func isTransientStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"deadlock",
		"could not serialize",
		"serialization failure",
		"lock timeout",
		"connection reset",
		"broken pipe",
		"bad connection",
	} {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}

// retryTransientStorage 在锁冲突时重跑整个事务，调用方取消后不再重试
func retryTransientStorage(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < storageRetryMaxAttempts; attempt++ {
		err = op()
		if !isRetryableStorageError(err) || ctx.Err() != nil {
			return err
		}
		if attempt == storageRetryMaxAttempts-1 {
			break
		}
		delay := storageRetryBaseDelay << attempt
		if delay > storageRetryMaxDelay {
			delay = storageRetryMaxDelay
		}
		delay += rand.N(storageRetryBaseDelay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func isRetryableStorageError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrBalanceContention) {
		return true
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
		return false
	}
	return isTransientStorageError(err)
}
