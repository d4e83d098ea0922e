package server

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.statusHandler)
	s.echo.GET("/models", s.modelHandler)
	s.echo.POST("/chat", s.chatHandler)
	s.echo.POST("/stop", s.stopHandler)
	s.echo.GET("/history", s.historyHandler)
	s.echo.PUT("/history", s.restoreHandler)
	s.echo.DELETE("/history", s.resetHandler)
	s.echo.GET("/ws", s.wsHandler)
}
