package api

import "crm_server/server/chat/domain"

type EnqueuedResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
}

type MessagesResponse struct {
	Items []domain.Message `json:"items"`
}

type ChatsResponse struct {
	Items []domain.ChatSummary `json:"items"`
}

type QuickRepliesResponse struct {
	Items []domain.QuickReply `json:"items"`
}
