package bootstrap

import "visitnote/internal/domain"

type noopEvents struct{}

func (noopEvents) RecorderChanged(domain.RecorderStatus) {}
func (noopEvents) RecorderLevels([]domain.LevelBar)      {}
func (noopEvents) LiveChanged(domain.LiveSnapshot)       {}
func (noopEvents) ViewChanged(domain.ViewSnapshot)       {}
func (noopEvents) Alert(domain.ErrorCode, string)        {}
