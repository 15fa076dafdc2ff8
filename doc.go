// Package dered provides the coordination core of the dere daemon: a
// personality-layered wrapper around an external LLM agent runtime that
// persists conversations, drives a set of background subsystems, and
// exposes an HTTP/WS API to thin clients.
//
// The daemon coordinates several subsystems over a shared relational store
// (package store): a work queue with atomic claiming (package workqueue), a
// cron-driven mission scheduler (package mission), a DAG-based swarm
// coordinator (package swarm), an agent session service that streams
// subprocess agent events to many subscribers (package session), a bond
// and emotion engine (packages bond, emotion), and a rare-event generator
// (package rareevent). The root package holds the few types every
// subsystem shares: session/status identifiers and the StreamEvent tagged
// union produced by the agent runtime adapter (package agentrt).
package dered
