package todoist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/tasks/12345" {
			t.Errorf("path = %s, want /tasks/12345", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		json.NewEncoder(w).Encode(Task{ID: "12345", Content: "Write report", Description: "notes"})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", time.Second)
	task, err := client.GetTask(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if task.Content != "Write report" || task.Description != "notes" {
		t.Errorf("GetTask() = %+v", task)
	}
}

func TestUpdateDescription(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/tasks/12345" {
			t.Errorf("path = %s, want /tasks/12345", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", time.Second)
	if err := client.UpdateDescription(context.Background(), "12345", "x (Timer Running: 1 minutes)"); err != nil {
		t.Fatalf("UpdateDescription() error = %v", err)
	}
	if got["description"] != "x (Timer Running: 1 minutes)" {
		t.Errorf("description = %q", got["description"])
	}
}

func TestPostComment(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comments" {
			t.Errorf("path = %s, want /comments", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", time.Second)
	if err := client.PostComment(context.Background(), "12345", "Elapsed time: 1m30s"); err != nil {
		t.Fatalf("PostComment() error = %v", err)
	}
	if got["task_id"] != "12345" {
		t.Errorf("task_id = %q, want 12345", got["task_id"])
	}
}

func TestListLabels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/labels" {
			t.Errorf("path = %s, want /labels", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]Label{{ID: "100", Name: "beeminder"}})
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", time.Second)
	labels, err := client.ListLabels(context.Background())
	if err != nil {
		t.Fatalf("ListLabels() error = %v", err)
	}
	if len(labels) != 1 || labels[0].Name != "beeminder" {
		t.Errorf("ListLabels() = %+v", labels)
	}
}

func TestNonSuccessIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(srv.URL, "tok", time.Second)
	_, err := client.GetTask(context.Background(), "gone")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("GetTask() error = %v, want ErrUnavailable", err)
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // closed before use

	client := New(srv.URL, "tok", time.Second)
	err := client.PostComment(context.Background(), "1", "x")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("PostComment() error = %v, want ErrUnavailable", err)
	}
}
